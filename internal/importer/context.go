package importer

import "context"

type contextKey string

const (
	ctxKeyImportID  contextKey = "import_id"
	ctxKeyIPAddress contextKey = "import_ip"
	ctxKeyUserAgent contextKey = "import_ua"
)

// ContextWithImportID tags ctx with the run id stamped on ledger entries.
func ContextWithImportID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyImportID, id)
}

// ImportIDFromContext returns the run id, or "" outside a run.
func ImportIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyImportID).(string); ok {
		return v
	}
	return ""
}

// ContextWithIPAddress adds the caller's IP address for run history.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithUserAgent adds the caller's User-Agent for run history.
func ContextWithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// IPAddressFromContext extracts the IP address.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// UserAgentFromContext extracts the User-Agent.
func UserAgentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
