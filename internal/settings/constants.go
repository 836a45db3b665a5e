package settings

// DB config keys and defaults for settings.
const (
	// FileRetentionDaysKey controls how long uploaded audio stays in the blob store.
	FileRetentionDaysKey = "FILE_RETENTION_DAYS"
	// StorageLimitMBKey is the per-user storage quota shown on the dashboard.
	StorageLimitMBKey = "STORAGE_LIMIT_MB"
	// MaxUploadMBKey caps a single audio or document upload.
	MaxUploadMBKey = "MAX_UPLOAD_MB"
	// DefaultFileRetentionDays is the fallback audio retention window.
	DefaultFileRetentionDays = 7
	// DefaultStorageLimitMB is the fallback storage quota.
	DefaultStorageLimitMB = 500
	// DefaultMaxUploadMB is the fallback upload size limit.
	DefaultMaxUploadMB = 500
)

// FileRetentionDays returns the configured retention window in days. Zero disables expiry.
func FileRetentionDays() int {
	if n, ok := DBConfigInt(FileRetentionDaysKey); ok && n >= 0 {
		return n
	}
	return DefaultFileRetentionDays
}

// StorageLimitMB returns the configured storage quota.
func StorageLimitMB() int {
	if n, ok := DBConfigInt(StorageLimitMBKey); ok && n > 0 {
		return n
	}
	return DefaultStorageLimitMB
}

// MaxUploadBytes returns the upload size limit in bytes.
func MaxUploadBytes() int64 {
	mb := DefaultMaxUploadMB
	if n, ok := DBConfigInt(MaxUploadMBKey); ok && n > 0 {
		mb = n
	}
	return int64(mb) << 20
}
