package footprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAcrossRecurrences(t *testing.T) {
	first := &Footprint{RequestMethod: "get", RequestPath: "/users/42/orders", ExceptionName: "NullPointerException", StatusCode: 500}
	second := &Footprint{RequestMethod: "get", RequestPath: "/users/97/orders", ExceptionName: "NullPointerException", StatusCode: 500}

	assert.Equal(t, Fingerprint(first), Fingerprint(second))
}

func TestFingerprintDiffersByDiscriminator(t *testing.T) {
	base := &Footprint{RequestMethod: "get", RequestPath: "/users", ExceptionName: "TimeoutError", StatusCode: 500}

	byException := &Footprint{RequestMethod: "get", RequestPath: "/users", ExceptionName: "ValueError", StatusCode: 500}
	byMethod := &Footprint{RequestMethod: "post", RequestPath: "/users", ExceptionName: "TimeoutError", StatusCode: 500}
	byPath := &Footprint{RequestMethod: "get", RequestPath: "/orders", ExceptionName: "TimeoutError", StatusCode: 500}

	assert.NotEqual(t, Fingerprint(base), Fingerprint(byException))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(byMethod))
	assert.NotEqual(t, Fingerprint(base), Fingerprint(byPath))
}

func TestFingerprintFallsBackToStatusCode(t *testing.T) {
	notFound := &Footprint{RequestMethod: "get", RequestPath: "/missing", StatusCode: 404}
	serverErr := &Footprint{RequestMethod: "get", RequestPath: "/missing", StatusCode: 500}

	assert.NotEqual(t, Fingerprint(notFound), Fingerprint(serverErr))
	assert.Len(t, Fingerprint(notFound), fingerprintLength)
}

func TestFingerprintIgnoresVolatileFields(t *testing.T) {
	first := &Footprint{RequestMethod: "get", RequestPath: "/api", ExceptionName: "E", StatusCode: 500, RequestUser: "alice", RequestID: "req-1"}
	second := &Footprint{RequestMethod: "get", RequestPath: "/api", ExceptionName: "E", StatusCode: 500, RequestUser: "bob", RequestID: "req-2"}

	assert.Equal(t, Fingerprint(first), Fingerprint(second))
}

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/users/42/orders", "/users/:id/orders"},
		{"/users/42/orders/", "/users/:id/orders"},
		{"/items/550e8400-e29b-41d4-a716-446655440000", "/items/:id"},
		{"/blobs/deadbeefdeadbeefdeadbeef", "/blobs/:id"},
		{"/users?page=2", "/users"},
		{"", "/"},
		{"/", "/"},
		{"users/1", "/users/:id"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizePath(tc.in), "input %q", tc.in)
	}
}
