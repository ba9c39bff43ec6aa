package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// DeviceIDHeaderName carries the originating device id for provenance.
const DeviceIDHeaderName = "device_id"

// DeviceIDHTTPHeader carries the device id on the presence socket handshake.
const DeviceIDHTTPHeader = "X-Device-Id"

// Remote procedure names understood by the authority.
const (
	ProcedureApply      = "sync.apply"
	ProcedureApplyBatch = "sync.applyBatch"
)
