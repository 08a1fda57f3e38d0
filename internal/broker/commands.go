package broker

// Broker command codes from the host's plugin interface. Only the codes the
// bridge answers are listed; everything else returns 0.
const (
	GetCompliance  = 327
	GetMaxTicks    = 328
	GetMaxRequests = 329
	GetPosition    = 331
	GetWait        = 345
	GetBrokerzone  = 348
	GetAvgEntry    = 358
	GetDiagnostics = 359

	SetSymbol      = 397
	SetDiagnostics = 406
	SetOrderType   = 408
	SetWait        = 395

	DoCancel = 421
)

// Time-in-force codes for SetOrderType.
const (
	OrderAON = 0
	OrderGTC = 1
	OrderIOC = 2
	OrderFOK = 3
)

// NFACompliant is the compliance flag reported for GetCompliance.
const NFACompliant = 2

// BrokerZoneEST is the broker timezone offset reported for GetBrokerzone.
const BrokerZoneEST = -5
