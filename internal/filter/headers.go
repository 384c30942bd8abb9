package filter

const (
	ForwardedPrefixHeader = "X-Forwarded-Prefix"

	ProxyHeadersOrder     = 5
	SensitiveHeadersOrder = 10
)

var DefaultSensitiveHeaders = []string{"Cookie", "Set-Cookie", "Authorization"}

// ProxyHeaders tells the backend which path prefix was stripped so it can
// build its own links.
type ProxyHeaders struct {
	contextPath string
}

func NewProxyHeaders(contextPath string) *ProxyHeaders {
	return &ProxyHeaders{contextPath: NormalizeContextPath(contextPath)}
}

func (p *ProxyHeaders) Name() string { return "proxy-headers" }
func (p *ProxyHeaders) Type() Type   { return Pre }
func (p *ProxyHeaders) Order() int   { return ProxyHeadersOrder }

func (p *ProxyHeaders) ShouldApply(fc *Context) bool {
	return fc.Outbound != nil && fc.Route != nil && (fc.Route.Prefix != "" || p.contextPath != "")
}

func (p *ProxyHeaders) Apply(fc *Context) error {
	fc.Outbound.Header.Set(ForwardedPrefixHeader, p.contextPath+fc.Route.Prefix)
	return nil
}

// SensitiveHeaders keeps credentials from leaking to backends.
type SensitiveHeaders struct {
	names []string
}

func NewSensitiveHeaders(names []string) *SensitiveHeaders {
	return &SensitiveHeaders{names: names}
}

func (s *SensitiveHeaders) Name() string { return "sensitive-headers" }
func (s *SensitiveHeaders) Type() Type   { return Pre }
func (s *SensitiveHeaders) Order() int   { return SensitiveHeadersOrder }

func (s *SensitiveHeaders) ShouldApply(fc *Context) bool {
	return fc.Outbound != nil && len(s.names) > 0
}

func (s *SensitiveHeaders) Apply(fc *Context) error {
	for _, name := range s.names {
		fc.Outbound.Header.Del(name)
	}
	return nil
}
