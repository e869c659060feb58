package protocol

const (
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrForbidden    = "E_FORBIDDEN"
	ErrBadRadius    = "E_BAD_RADIUS"
	ErrReloadFailed = "E_RELOAD_FAILED"
	ErrClosed       = "E_CLOSED"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:   {},
	ErrForbidden:    {},
	ErrBadRadius:    {},
	ErrReloadFailed: {},
	ErrClosed:       {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
