package adapter

var (
	JobFromOperation = jobFromOperation
	JobSchema        = jobSchema
)
