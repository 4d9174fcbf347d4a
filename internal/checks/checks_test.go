package checks

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/vault"
	"github.com/ignite/fraudguard/internal/velocity"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	blacklist  map[string]*refdata.BlacklistEntry // keyed by valueHash
	disposable map[string]*refdata.DisposableEmailDomain
	tor        map[string]*refdata.TorExitNode
	asnByIP    *refdata.ASN
	knownUA    map[string]*refdata.KnownUserAgent
	err        error
}

func (f *fakeStore) LookupBlacklist(_ context.Context, _ refdata.BlacklistKind, valueHash string) (*refdata.BlacklistEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.blacklist[valueHash], nil
}

func (f *fakeStore) LookupDisposableDomain(_ context.Context, domain string) (*refdata.DisposableEmailDomain, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.disposable[domain], nil
}

func (f *fakeStore) LookupTorExitNode(_ context.Context, ip string) (*refdata.TorExitNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tor[ip], nil
}

func (f *fakeStore) LookupASNByIP(_ context.Context, _ netip.Addr) (*refdata.ASN, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.asnByIP, nil
}

func (f *fakeStore) LookupKnownUserAgent(_ context.Context, hash string) (*refdata.KnownUserAgent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.knownUA[hash], nil
}

type fakeCounter struct {
	counts map[string]int64 // keyed by kind+window
}

func (f *fakeCounter) Bump(_ context.Context, kind, _ string, window velocity.Window) (int64, error) {
	if f.counts == nil {
		return 1, nil
	}
	if n, ok := f.counts[kind+":"+string(window)]; ok {
		return n, nil
	}
	return 1, nil
}

type fakeResolver struct {
	mx    []*net.MX
	hosts []string
	txt   []string
	err   error
}

func (f *fakeResolver) LookupMX(_ context.Context, _ string) ([]*net.MX, error) {
	return f.mx, f.err
}

func (f *fakeResolver) LookupHost(_ context.Context, _ string) ([]string, error) {
	return f.hosts, f.err
}

func (f *fakeResolver) LookupTXT(_ context.Context, _ string) ([]string, error) {
	return f.txt, f.err
}

func healthyResolver() *fakeResolver {
	return &fakeResolver{
		mx:    []*net.MX{{Host: "mx1.example.com.", Pref: 10}},
		hosts: []string{"93.184.216.34"},
		txt:   []string{"v=spf1 include:_spf.example.com ~all"},
	}
}

type fakeGeo struct {
	info *GeoInfo
}

func (f *fakeGeo) Locate(_ context.Context, _ string) (*GeoInfo, bool) {
	if f.info == nil {
		return nil, false
	}
	return f.info, true
}

type fakeIntel struct {
	ageDays int
	ageOK   bool
	parked  bool
}

func (f *fakeIntel) AgeDays(_ context.Context, _ string) (int, bool) { return f.ageDays, f.ageOK }
func (f *fakeIntel) IsParked(_ context.Context, _ string) bool       { return f.parked }

func testHasher(t *testing.T) *vault.Hasher {
	t.Helper()
	v, err := vault.New("test-hash-key-0123456789abcdef", "test-encryption-key-0123456789ab")
	require.NoError(t, err)
	return v.Hasher
}

// ---------------------------------------------------------------------------
// EmailCheck
// ---------------------------------------------------------------------------

func TestEmailCheckCleanAddress(t *testing.T) {
	check := NewEmailCheck(&fakeStore{}, testHasher(t), nil, healthyResolver())

	res, err := check.Perform(context.Background(), &Input{Email: "john.doe@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.Score)
}

func TestEmailCheckInvalidSyntax(t *testing.T) {
	check := NewEmailCheck(&fakeStore{}, testHasher(t), nil, healthyResolver())

	for _, email := range []string{"not-an-email", "a@b", "@example.com", "user@"} {
		res, err := check.Perform(context.Background(), &Input{Email: email})
		require.NoError(t, err, email)
		assert.False(t, res.Passed, email)
		assert.Equal(t, 100, res.Score, email)
		assert.Equal(t, true, res.Details["invalid_syntax"], email)
	}
}

func TestEmailCheckBlacklisted(t *testing.T) {
	hasher := testHasher(t)
	store := &fakeStore{blacklist: map[string]*refdata.BlacklistEntry{
		hasher.Hash("fraud@example.com"): {Reason: "chargeback ring"},
	}}
	check := NewEmailCheck(store, hasher, nil, healthyResolver())

	res, err := check.Perform(context.Background(), &Input{Email: "FRAUD@example.com"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, true, res.Details["blacklisted"])
}

func TestEmailCheckDisposableDomain(t *testing.T) {
	// The stored weight is deliberately not 80: the disposable sub-score
	// is a fixed +80 regardless of what the table row carries.
	store := &fakeStore{disposable: map[string]*refdata.DisposableEmailDomain{
		"tempmail.io": {Domain: "tempmail.io", RiskWeight: 55, Source: "list"},
	}}
	check := NewEmailCheck(store, testHasher(t), nil, healthyResolver())

	res, err := check.Perform(context.Background(), &Input{Email: "user@tempmail.io"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, true, res.Details["disposable_domain"])
}

func TestEmailCheckStoreErrorAborts(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	check := NewEmailCheck(store, testHasher(t), nil, healthyResolver())

	_, err := check.Perform(context.Background(), &Input{Email: "user@example.com"})
	require.Error(t, err)
}

func TestEmailCheckCompositionSignals(t *testing.T) {
	check := NewEmailCheck(&fakeStore{}, testHasher(t), nil, healthyResolver())

	tests := []struct {
		name   string
		email  string
		detail string
	}{
		{"role address", "admin@example.com", "role_address"},
		{"plus tag", "user+tag@example.com", "plus_tag"},
		{"all digits", "12345678@example.com", "all_digit_local_part"},
		{"consecutive separators", "a..b@example.com", "consecutive_separators"},
		{"hex blob", "deadbeefdeadbeef01@example.com", "random_pattern"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := check.Perform(context.Background(), &Input{Email: tc.email})
			require.NoError(t, err)
			assert.Contains(t, res.Details, tc.detail)
			assert.Greater(t, res.Score, 0)
		})
	}
}

func TestEmailCheckUnresolvableDomain(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("no such host")}
	check := NewEmailCheck(&fakeStore{}, testHasher(t), nil, resolver)

	res, err := check.Perform(context.Background(), &Input{Email: "user@example.com"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["dns_unresolvable"])
}

func TestEmailCheckMixedCaseRandomLocalPart(t *testing.T) {
	check := NewEmailCheck(&fakeStore{}, testHasher(t), nil, healthyResolver())

	// Mixed-case generated local-part: casing must survive normalization
	// or the entropy analysis never sees an upper-case rune.
	res, err := check.Perform(context.Background(), &Input{Email: "Xk9mQz2pLw4r@example.com"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["random_pattern"])
	assert.GreaterOrEqual(t, res.Score, 25)
}

// ---------------------------------------------------------------------------
// DomainCheck
// ---------------------------------------------------------------------------

func TestDomainCheckHealthy(t *testing.T) {
	check := NewDomainCheck(nil, healthyResolver(), &fakeIntel{ageDays: 4000, ageOK: true})

	res, err := check.Perform(context.Background(), &Input{Email: "user@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.Score)
}

func TestDomainCheckInvalidHostname(t *testing.T) {
	check := NewDomainCheck(nil, healthyResolver(), nil)

	for _, domain := range []string{"nodots", "-bad.com", "bad-.com", "example.123"} {
		res, err := check.Perform(context.Background(), &Input{Domain: domain, Email: "u@example.com"})
		require.NoError(t, err, domain)
		assert.False(t, res.Passed, domain)
		assert.Equal(t, 100, res.Score, domain)
	}
}

func TestDomainCheckNewDomain(t *testing.T) {
	check := NewDomainCheck(nil, healthyResolver(), &fakeIntel{ageDays: 12, ageOK: true})

	res, err := check.Perform(context.Background(), &Input{Email: "user@fresh-site.com"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["new_domain"])
	assert.Equal(t, 40, res.Score)
}

func TestDomainCheckParked(t *testing.T) {
	check := NewDomainCheck(nil, healthyResolver(), &fakeIntel{parked: true})

	res, err := check.Perform(context.Background(), &Input{Email: "user@parked.com"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["parked_domain"])
}

func TestDomainCheckRegistrableDomain(t *testing.T) {
	check := NewDomainCheck(nil, healthyResolver(), &fakeIntel{ageDays: 4000, ageOK: true})

	res, err := check.Perform(context.Background(), &Input{Domain: "shop.mail.example.co.uk"})
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", res.Details["registrable_domain"])
}

func TestDomainCheckNoMX(t *testing.T) {
	resolver := &fakeResolver{hosts: []string{"1.2.3.4"}, txt: []string{"v=spf1 -all"}}
	check := NewDomainCheck(nil, resolver, nil)

	res, err := check.Perform(context.Background(), &Input{Email: "user@nomail.com"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["no_mx_records"])
}

func TestValidHostname(t *testing.T) {
	valid := []string{"example.com", "sub.example.co.uk", "a-b.example.io", "münchen.de"}
	invalid := []string{"", "nodots", "ex..com", "example.c0m", "-a.com", stringOfLen(254)}

	for _, d := range valid {
		assert.True(t, ValidHostname(d), d)
	}
	for _, d := range invalid {
		assert.False(t, ValidHostname(d), d)
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// IPCheck
// ---------------------------------------------------------------------------

func TestIPCheckClean(t *testing.T) {
	check := NewIPCheck(&fakeStore{}, testHasher(t), &fakeCounter{}, nil)

	res, err := check.Perform(context.Background(), &Input{IP: "93.184.216.34"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.Score)
}

func TestIPCheckInvalid(t *testing.T) {
	check := NewIPCheck(&fakeStore{}, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{IP: "999.1.1.1"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, true, res.Details["invalid_ip"])
}

func TestIPCheckReservedRange(t *testing.T) {
	check := NewIPCheck(&fakeStore{}, testHasher(t), nil, nil)

	for _, ip := range []string{"10.0.0.1", "192.168.1.1", "127.0.0.1", "::1"} {
		res, err := check.Perform(context.Background(), &Input{IP: ip})
		require.NoError(t, err, ip)
		assert.False(t, res.Passed, ip)
		assert.Equal(t, true, res.Details["reserved_range"], ip)
	}
}

func TestIPCheckTorExitNode(t *testing.T) {
	store := &fakeStore{tor: map[string]*refdata.TorExitNode{
		"185.220.101.1": {IPAddress: "185.220.101.1", RiskWeight: 90},
	}}
	check := NewIPCheck(store, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{IP: "185.220.101.1"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 90, res.Score)
	assert.Equal(t, true, res.Details["tor_exit_node"])
}

func TestIPCheckDatacenterVPN(t *testing.T) {
	store := &fakeStore{asnByIP: &refdata.ASN{
		Number:       212238,
		Organization: "Example Hosting",
		Type:         refdata.ASNDatacenter,
		IsVPN:        true,
		RiskWeight:   10,
	}}
	check := NewIPCheck(store, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{IP: "45.77.1.1"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	// 10 base + 30 datacenter + 40 vpn
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, true, res.Details["datacenter"])
	assert.Equal(t, true, res.Details["vpn_or_proxy"])
}

func TestIPCheckGeoMismatch(t *testing.T) {
	geo := &fakeGeo{info: &GeoInfo{CountryCode: "RU", TimezoneOffset: 3}}
	check := NewIPCheck(&fakeStore{}, testHasher(t), nil, geo)

	res, err := check.Perform(context.Background(), &Input{IP: "93.184.216.34", Country: "US"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["country_mismatch"])
	assert.Equal(t, 30, res.Score)
}

func TestIPCheckProxyHeaders(t *testing.T) {
	check := NewIPCheck(&fakeStore{}, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{
		IP:      "93.184.216.34",
		Headers: map[string][]string{"X-Forwarded-For": {"203.0.113.7"}},
	})
	require.NoError(t, err)
	// 10 presence + 20 disagreeing address (203.0.113.7 != reported IP)
	assert.Equal(t, 30, res.Score)
	assert.Equal(t, true, res.Details["proxy_ip_mismatch"])
}

// ---------------------------------------------------------------------------
// CreditCardCheck
// ---------------------------------------------------------------------------

func TestCreditCardCheckValidCard(t *testing.T) {
	check := NewCreditCardCheck(&fakeStore{}, testHasher(t), &fakeCounter{})

	// Luhn-valid Visa that is not in the published test set.
	res, err := check.Perform(context.Background(), &Input{CreditCard: "4539 1488 0343 6467"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "visa", res.Details["brand"])
	assert.Equal(t, 0, res.Score)
}

func TestCreditCardCheckLuhnFailure(t *testing.T) {
	check := NewCreditCardCheck(&fakeStore{}, testHasher(t), nil)

	res, err := check.Perform(context.Background(), &Input{CreditCard: "4111111111111112"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, true, res.Details["luhn_failed"])
}

func TestCreditCardCheckLength(t *testing.T) {
	check := NewCreditCardCheck(&fakeStore{}, testHasher(t), nil)

	for _, pan := range []string{"411111", "41111111111111111111"} {
		res, err := check.Perform(context.Background(), &Input{CreditCard: pan})
		require.NoError(t, err, pan)
		assert.Equal(t, 100, res.Score, pan)
	}
}

func TestCreditCardCheckTestCards(t *testing.T) {
	check := NewCreditCardCheck(&fakeStore{}, testHasher(t), nil)

	for _, pan := range []string{"4111111111111111", "4242424242424242", "5555555555554444", "378282246310005"} {
		res, err := check.Perform(context.Background(), &Input{CreditCard: pan})
		require.NoError(t, err, pan)
		assert.False(t, res.Passed, pan)
		assert.Equal(t, true, res.Details["test_card"], pan)
		assert.GreaterOrEqual(t, res.Score, 80, pan)
	}
}

func TestCreditCardCheckBrands(t *testing.T) {
	tests := []struct {
		pan   string
		brand string
	}{
		{"4539148803436467", "visa"},
		{"5425233430109903", "mastercard"},
		{"2223000048410010", "mastercard"},
		{"374245455400126", "amex"},
		{"6011000991300009", "discover"},
		{"3530111333300000", "jcb"},
		{"30569309025904", "diners"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.brand, cardBrand(tc.pan), tc.pan)
	}
}

func TestCreditCardCheckBlacklisted(t *testing.T) {
	hasher := testHasher(t)
	store := &fakeStore{blacklist: map[string]*refdata.BlacklistEntry{
		hasher.Hash("4539148803436467"): {Reason: "stolen"},
	}}
	check := NewCreditCardCheck(store, hasher, nil)

	res, err := check.Perform(context.Background(), &Input{CreditCard: "4539-1488-0343-6467"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["blacklisted"])
}

func TestLuhn(t *testing.T) {
	assert.True(t, luhnValid("4539148803436467"))
	assert.True(t, luhnValid("378282246310005"))
	assert.False(t, luhnValid("4539148803436468"))
}

// ---------------------------------------------------------------------------
// PhoneCheck
// ---------------------------------------------------------------------------

func TestPhoneCheckValidMobile(t *testing.T) {
	check := NewPhoneCheck(&fakeStore{}, testHasher(t), &fakeCounter{}, nil)

	res, err := check.Perform(context.Background(), &Input{Phone: "+44 7911 165432", Country: "GB"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "mobile", res.Details["number_type"])
	assert.Equal(t, 0, res.Score)
}

func TestPhoneCheckInvalid(t *testing.T) {
	check := NewPhoneCheck(&fakeStore{}, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{Phone: "not a number", Country: "US"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 100, res.Score)
}

func TestPhoneCheckTollFree(t *testing.T) {
	check := NewPhoneCheck(&fakeStore{}, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{Phone: "+1 800 234 5678", Country: "US"})
	require.NoError(t, err)
	assert.Equal(t, "toll_free", res.Details["number_type"])
	assert.GreaterOrEqual(t, res.Score, 50)
}

func TestPhoneCheckCountryMismatch(t *testing.T) {
	check := NewPhoneCheck(&fakeStore{}, testHasher(t), nil, nil)

	res, err := check.Perform(context.Background(), &Input{Phone: "+44 7911 123456", Country: "US"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["country_mismatch"])
}

func TestPhoneCheckDisposablePrefix(t *testing.T) {
	check := NewPhoneCheck(&fakeStore{}, testHasher(t), nil, []string{"7911"})

	res, err := check.Perform(context.Background(), &Input{Phone: "+44 7911 123456", Country: "GB"})
	require.NoError(t, err)
	assert.Equal(t, "7911", res.Details["disposable_prefix"])
	assert.GreaterOrEqual(t, res.Score, 50)
}

func TestFormatAnomalies(t *testing.T) {
	assert.True(t, hasFormatAnomalies("+1#555#000#%!"))
	assert.True(t, hasFormatAnomalies("+1 555 7777777777"))
	assert.True(t, hasFormatAnomalies("+1 234 567 8901"))
	assert.False(t, hasFormatAnomalies("+1 (212) 664-7665"))
}

func TestRepeatedRunBoundaries(t *testing.T) {
	assert.True(t, repeatedRun("2021111111299", 7), "seven consecutive digits")
	assert.False(t, repeatedRun("2021111112199", 7), "six consecutive digits")
	assert.True(t, repeatedRun("aaaaaaaaaaa", 11), "eleven consecutive runes")
	assert.False(t, repeatedRun("aaaaaaaaaab", 11), "ten consecutive runes")
	assert.False(t, repeatedRun("", 7))
}

// ---------------------------------------------------------------------------
// UserAgentCheck
// ---------------------------------------------------------------------------

const modernChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestUserAgentCheckModernBrowser(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, &fakeCounter{})

	res, err := check.Perform(context.Background(), &Input{UserAgent: modernChromeUA})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0, res.Score)
}

func TestUserAgentCheckTooShort(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{UserAgent: "curl"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 50, res.Score)
}

func TestUserAgentCheckAutomation(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/119.0.0.0 Safari/537.36",
	})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.Equal(t, "headless", res.Details["automation_pattern"])
}

func TestUserAgentCheckMaliciousTool(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{UserAgent: "sqlmap/1.7.2#stable (https://sqlmap.org)"})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "sqlmap", res.Details["malicious_pattern"])
	assert.GreaterOrEqual(t, res.Score, 80)
}

func TestUserAgentCheckOutdatedBrowser(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{
		UserAgent: "Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1; SV1)",
	})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["outdated_browser"])
	assert.GreaterOrEqual(t, res.Score, 90)
}

func TestUserAgentCheckKnownMalicious(t *testing.T) {
	ua := "EvilScanner/2.0 (automated persistence scan edition)"
	store := &fakeStore{knownUA: map[string]*refdata.KnownUserAgent{
		refdata.UserAgentHash(ua): {Type: refdata.UAMalicious, RiskWeight: 95},
	}}
	check := NewUserAgentCheck(store, nil)

	res, err := check.Perform(context.Background(), &Input{UserAgent: ua})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, true, res.Details["known_malicious"])
	assert.GreaterOrEqual(t, res.Score, 90)
}

func TestUserAgentCheckProgrammingLanguage(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{UserAgent: "python-requests/2.31.0"})
	require.NoError(t, err)
	assert.Equal(t, "python-requests", res.Details["programming_language"])
}

func TestUserAgentCheckRepeatedCharacters(t *testing.T) {
	check := NewUserAgentCheck(&fakeStore{}, nil)

	res, err := check.Perform(context.Background(), &Input{UserAgent: "Mozilla/5.0 aaaaaaaaaaaa agent"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Details["repeated_characters"])
}

// ---------------------------------------------------------------------------
// Input / Registry
// ---------------------------------------------------------------------------

func TestInputValidate(t *testing.T) {
	assert.Error(t, (&Input{}).Validate())
	assert.Error(t, (&Input{UserAgent: modernChromeUA}).Validate())
	assert.Error(t, (&Input{Email: "a@b.com", Country: "USA"}).Validate())
	assert.NoError(t, (&Input{Email: "a@b.com"}).Validate())
	assert.NoError(t, (&Input{IP: "1.2.3.4", Country: "US"}).Validate())
}

func TestInputEmailDomain(t *testing.T) {
	assert.Equal(t, "example.com", (&Input{Email: "User@Example.COM"}).EmailDomain())
	assert.Equal(t, "override.com", (&Input{Email: "u@e.com", Domain: "Override.com"}).EmailDomain())
	assert.Equal(t, "", (&Input{Email: "no-at-sign"}).EmailDomain())
}

func TestRegistryApplicable(t *testing.T) {
	hasher := testHasher(t)
	reg := NewRegistry()
	reg.Register(NewEmailCheck(&fakeStore{}, hasher, nil, healthyResolver()))
	reg.Register(NewIPCheck(&fakeStore{}, hasher, nil, nil))
	reg.Register(NewUserAgentCheck(&fakeStore{}, nil))

	applicable := reg.Applicable(&Input{Email: "u@example.com", UserAgent: modernChromeUA})
	require.Len(t, applicable, 2)
	assert.Equal(t, NameEmail, applicable[0].Name())
	assert.Equal(t, NameUserAgent, applicable[1].Name())

	assert.Panics(t, func() { reg.Register(NewUserAgentCheck(&fakeStore{}, nil)) })
}
