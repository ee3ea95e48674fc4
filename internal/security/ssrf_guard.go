// Package security は外部入力と外部通信に関する防御機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL は外部URLが保存・取得を許可されない形式であることを示す。
var ErrUnsafeURL = errors.New("unsafe url")

// 外部通信はhttps:443のみ。OAuthプロバイダーもアバター画像もこれで足りる。
const (
	outboundScheme = "https"
	outboundPort   = 443
)

// blockedPrefixes はIPリテラルとして拒否する範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIPを含む
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// internalSuffixes はクラスタ内やクラウドの内部名前解決に使われるサフィックス。
var internalSuffixes = []string{".localhost", ".internal", ".local"}

// SSRFGuard はOAuthプロバイダーへの通信と、プロバイダーが返すアバターURLの検証を担う。
type SSRFGuard struct {
	// trustedHosts が空でなければ、ValidateURLはこのホストとそのサブドメインのみ許可する。
	trustedHosts []string
}

// NewSSRFGuard はSSRFGuardを生成する。
// trustedHostsを指定するとアバターURLのホストをそれらに限定する。
func NewSSRFGuard(trustedHosts ...string) *SSRFGuard {
	g := &SSRFGuard{}
	for _, h := range trustedHosts {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			g.trustedHosts = append(g.trustedHosts, h)
		}
	}
	return g
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// 名前解決後のダイヤル時点でプライベートIPやループバックへの接続を拒否する。
// timeoutは接続からボディ読み込みまでの上限。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(outboundScheme).
		SetAllowedPorts(outboundPort).
		Build()
	return safeurl.Client(cfg).Client
}

// ValidateURL は名前解決を伴わずにURLを検証する。
// 不適合な場合はErrUnsafeURLをラップしたエラーを返す。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || rawURL == "" {
		return fmt.Errorf("%w: cannot parse %q", ErrUnsafeURL, rawURL)
	}
	if !strings.EqualFold(u.Scheme, outboundScheme) {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	// user:pass@host 形式は表示時にホストを偽装できる
	if u.User != nil {
		return fmt.Errorf("%w: userinfo present", ErrUnsafeURL)
	}
	if p := u.Port(); p != "" && p != fmt.Sprint(outboundPort) {
		return fmt.Errorf("%w: port %s", ErrUnsafeURL, p)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked address %s", ErrUnsafeURL, addr)
		}
	} else if host == "localhost" || hasAnySuffix(host, internalSuffixes) {
		return fmt.Errorf("%w: internal host %s", ErrUnsafeURL, host)
	}

	if len(g.trustedHosts) > 0 && !g.isTrusted(host) {
		return fmt.Errorf("%w: host %s is not trusted", ErrUnsafeURL, host)
	}
	return nil
}

func (g *SSRFGuard) isTrusted(host string) bool {
	return slices.ContainsFunc(g.trustedHosts, func(t string) bool {
		return host == t || strings.HasSuffix(host, "."+t)
	})
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return slices.ContainsFunc(blockedPrefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}

func hasAnySuffix(s string, suffixes []string) bool {
	return slices.ContainsFunc(suffixes, func(suf string) bool {
		return strings.HasSuffix(s, suf)
	})
}
