package tracing

// Span attribute keys.
const (
	AttrObjectName    = "object.name"
	AttrObjectType    = "object.type"
	AttrAttributeName = "attribute.name"
	AttrOperationName = "operation.name"
	AttrPattern       = "query.pattern"
	AttrMatches       = "query.matches"
	AttrDispatchMode  = "dispatch.mode"

	AttrFaultKind   = "fault.kind"
	AttrFaultOrigin = "fault.origin"
)

// Dispatch modes recorded on spans.
const (
	ModeDirect     = "direct"
	ModeReflective = "reflective"
)

// SpanPrefix is prepended to every operation span name.
const SpanPrefix = "beanserver."

// Operation names used for spans.
const (
	OpGetAttribute   = "getAttribute"
	OpSetAttribute   = "setAttribute"
	OpGetAttributes  = "getAttributes"
	OpSetAttributes  = "setAttributes"
	OpInvoke         = "invoke"
	OpIsInstanceOf   = "isInstanceOf"
	OpDescribe       = "describe"
	OpPreRegister    = "preRegister"
	OpPostRegister   = "postRegister"
	OpPreDeregister  = "preDeregister"
	OpPostDeregister = "postDeregister"
	OpRegister       = "register"
	OpUnregister     = "unregister"
	OpQuery          = "query"
)

// Span events.
const (
	EventNameRewritten   = "name.rewritten"
	EventAttributeFailed = "attribute.failed"
	EventNotified        = "notification.published"
)
