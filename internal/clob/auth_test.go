package clob

import "testing"

func hmacSig(t *testing.T, secret string) string {
	t.Helper()
	sig, err := buildPolyHmacSignature(secret, 1000000, "test-sign", "/orders", []byte(`{"hash": "0x123"}`))
	if err != nil {
		t.Fatalf("buildPolyHmacSignature: %v", err)
	}
	return sig
}

// Known vector: the all-A secret over this request must produce this exact
// url-safe signature or L2 auth breaks against the live API.
const wantAllASig = "ZwAdJKvoYRlEKDkNMwd5BuwNNtg93kNaR_oU2HrfVvc="

func TestBuildPolyHmacSignature_KnownVector(t *testing.T) {
	if got := hmacSig(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="); got != wantAllASig {
		t.Fatalf("signature mismatch: got %q want %q", got, wantAllASig)
	}
}

func TestBuildPolyHmacSignature_AcceptsBase64URLSecrets(t *testing.T) {
	// Same key material, standard vs url-safe alphabet (and missing padding).
	std := hmacSig(t, "++/AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	urlSafe := hmacSig(t, "--_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	if std != urlSafe {
		t.Fatalf("base64 and base64url secrets disagree: %q vs %q", std, urlSafe)
	}
}

func TestBuildPolyHmacSignature_StripsInvalidSecretBytes(t *testing.T) {
	got := hmacSig(t, "AAAAAAAAA^^AAAAAAAA<>AAAAA||AAAAAAAAAAAAAAAAAAAAA=")
	if got != wantAllASig {
		t.Fatalf("signature mismatch: got %q want %q", got, wantAllASig)
	}
}

func TestSanitizeBase64Secret_Padding(t *testing.T) {
	cases := []struct{ in, want string }{
		{"QUJD", "QUJD"},
		{"QUJDRA", "QUJDRA=="},
		{" QUJD\n", "QUJD"},
		{"QU-_", "QU+/"},
	}
	for _, tc := range cases {
		if got := sanitizeBase64Secret(tc.in); got != tc.want {
			t.Fatalf("sanitizeBase64Secret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
