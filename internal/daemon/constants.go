package daemon

import "time"

const (
	DirName            = ".mediarec"
	SocketName         = "mediarec.sock"
	SpoolDirName       = "spool"
	ClientDeadline     = 30 * time.Second
	DaemonStartTimeout = 5 * time.Second
	DaemonPollInterval = 50 * time.Millisecond
	CleanupInterval    = time.Minute
	DefaultSlotTTL     = time.Hour
	DefaultStopTimeout = 10 * time.Second
	MaxStopTimeout     = 5 * time.Minute
	MaxProbeTimeout    = 2 * time.Minute
	// StartDeadline bounds a start request: the device probe and the
	// recorder start each wait up to the probe timeout.
	StartDeadline = 2*MaxProbeTimeout + ClientDeadline
)
