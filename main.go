package main

import "github.com/praytools/pray-bot/cmd"

func main() {
	cmd.Execute()
}
