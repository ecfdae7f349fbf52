package protocol

// RPC-style method names for cron administration and approval
// resolution. No code in this tree references them: bus events and HTTP
// routes use their own names.
const (
	MethodCronList   = "cron.list"
	MethodCronCreate = "cron.create"
	MethodCronUpdate = "cron.update"
	MethodCronDelete = "cron.delete"
	MethodCronRun    = "cron.run"
	MethodCronRuns   = "cron.runs"
	MethodCronStatus = "cron.status"

	MethodApprovalsList    = "exec.approval.list"
	MethodApprovalsResolve = "exec.approval.resolve"
)
