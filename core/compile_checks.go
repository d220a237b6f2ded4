package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ RequestSigner = HMACSHA1Signer{}
	_ RequestSigner = PlaintextSigner{}
	_ NonceLedger   = (*MemoryNonceLedger)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
