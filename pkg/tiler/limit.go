package tiler

const (
	defaultMaxFiles = 1024
	reservedFiles   = 16
)

// ClampOpen caps a requested pool size at MaxFilesEver. capped reports
// whether the request was lowered.
func ClampOpen(requested int) (n int, capped bool) {
	limit := MaxFilesEver()
	if requested > limit {
		return limit, true
	}
	return requested, false
}
