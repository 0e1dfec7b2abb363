package httpclient

import (
	"testing"
)

func TestSigV4Config_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SigV4Config
		wantErr bool
	}{
		{name: "valid", cfg: SigV4Config{Service: "execute-api", Region: "us-east-1"}},
		{name: "missing service", cfg: SigV4Config{Region: "us-east-1"}, wantErr: true},
		{name: "missing region", cfg: SigV4Config{Service: "execute-api"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEmptyPayloadHash(t *testing.T) {
	// SHA-256 of the empty string, the constant SigV4 specifies for
	// bodyless requests.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if emptyPayloadHash != want {
		t.Errorf("emptyPayloadHash = %q, want %q", emptyPayloadHash, want)
	}
}
