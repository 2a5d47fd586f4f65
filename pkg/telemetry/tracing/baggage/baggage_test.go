package baggage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	headers := []string{
		"sentry-trace_id=771a43a4192642f0b136d5159a501700,sentry-public_key=49d0f7386ad645858ae85020e393bef3,sentry-sample_rate=0.01337,sentry-user_id=Am%C3%A9lie",
		"other-vendor-value-1=foo;bar;baz, sentry-trace_id=771a43a4192642f0b136d5159a501700 , other-vendor-value-2=foo;bar;",
		"sentry-sample_rate=1.0,sentry-unknown_key=x%20y,acme=1",
		"userId=alice,serverNode=DF%2028,isProduction=false",
		"novalue,=bad,,  spaced = x ",
		"sentry-release=1.0.0%2Bbuild.7",
	}

	for _, h := range headers {
		t.Run(h, func(t *testing.T) {
			assert.Equal(t, h, Parse(h).String())
		})
	}
}

func TestParse_Empty(t *testing.T) {
	b := Parse("")
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, "", b.String())
}

func TestParse_DecodesValues(t *testing.T) {
	b := Parse("sentry-user_id=Am%C3%A9lie, serverNode = DF%2028 ;prop=1")

	v, ok := b.Get("sentry-user_id")
	require.True(t, ok)
	assert.Equal(t, "Amélie", v)

	v, ok = b.Get("serverNode")
	require.True(t, ok)
	assert.Equal(t, "DF 28", v)

	m := b.Members()[1]
	assert.Equal(t, "prop=1", m.Properties)
}

func TestParse_InvalidMembersKept(t *testing.T) {
	b := Parse("novalue,sentry-sampled=true,=x")

	require.Equal(t, 3, b.Len())
	assert.False(t, b.Members()[0].Valid())
	assert.True(t, b.Members()[1].Valid())
	assert.False(t, b.Members()[2].Valid())

	_, ok := b.Get("novalue")
	assert.False(t, ok)
}

func TestBaggage_VendorSplit(t *testing.T) {
	b := Parse("acme=1,sentry-sample_rate=0.5,sentry-sampled=true,other=2")

	vendor := b.VendorMembers()
	require.Len(t, vendor, 2)
	assert.Equal(t, "sample_rate", vendor[0].VendorKey())
	assert.Equal(t, "sampled", vendor[1].VendorKey())

	assert.Equal(t, "acme=1,other=2", b.ThirdParty().String())
}

func TestParseHeaderValues(t *testing.T) {
	b := ParseHeaderValues([]string{"a=1", "", "sentry-sampled=false"})
	assert.Equal(t, "a=1,sentry-sampled=false", b.String())
	assert.Equal(t, 0, ParseHeaderValues(nil).Len())
}

func TestBaggage_WithEncodes(t *testing.T) {
	b := Parse("acme=1").With(NewMember("sentry-transaction", "GET /users/{id}"))

	assert.Equal(t, "acme=1,sentry-transaction=GET%20%2Fusers%2F%7Bid%7D", b.String())

	v, ok := Parse(b.String()).Get("sentry-transaction")
	require.True(t, ok)
	assert.Equal(t, "GET /users/{id}", v)
}

func TestBaggage_WithIsCopy(t *testing.T) {
	base := Parse("a=1")
	_ = base.With(NewMember("b", "2"))
	assert.Equal(t, "a=1", base.String())
}

func TestBaggage_WithRespectsLimits(t *testing.T) {
	var b Baggage
	for i := 0; i < MaxMembers+10; i++ {
		b = b.With(NewMember("k", "v"))
	}
	assert.Equal(t, MaxMembers, b.Len())

	big := NewMember("big", strings.Repeat("x", MaxHeaderBytes))
	assert.Equal(t, 0, Baggage{}.With(big).Len())
}
