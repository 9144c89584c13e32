package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AuthorizationService = (*Service)(nil)
	_ DataReader           = (*Service)(nil)

	_ AuthorizationInfoStore  = (*MemoryAuthorizationInfoStore)(nil)
	_ AuthorizationTokenStore = (*MemoryAuthorizationTokenStore)(nil)
	_ DataStore               = (*MemoryDataStore)(nil)
	_ ReplayLedger            = (*MemoryReplayLedger)(nil)
	_ MetricsRecorder         = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
