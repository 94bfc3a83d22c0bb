package protocol

import (
	"strings"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		packet      []byte
		wantKind    Kind
		wantPayload string
		wantFinal   bool
		wantErr     bool
		errMsg      string
	}{
		{
			name:      "okay without message",
			packet:    []byte("OKAY"),
			wantKind:  KindOkay,
			wantFinal: true,
		},
		{
			name:        "okay with variable value",
			packet:      []byte("OKAY0x20000000"),
			wantKind:    KindOkay,
			wantPayload: "0x20000000",
			wantFinal:   true,
		},
		{
			name:        "fail with reason",
			packet:      []byte("FAILpartition does not exist"),
			wantKind:    KindFail,
			wantPayload: "partition does not exist",
			wantFinal:   true,
		},
		{
			name:        "data phase",
			packet:      []byte("DATA0001f000"),
			wantKind:    KindData,
			wantPayload: "0001f000",
			wantFinal:   true,
		},
		{
			name:        "info",
			packet:      []byte("INFOwriting 'boot'..."),
			wantKind:    KindInfo,
			wantPayload: "writing 'boot'...",
		},
		{
			name:        "text",
			packet:      []byte("TEXTerasing"),
			wantKind:    KindText,
			wantPayload: "erasing",
		},
		{
			name:    "too short",
			packet:  []byte("OK"),
			wantErr: true,
			errMsg:  "response too short",
		},
		{
			name:    "too long",
			packet:  []byte("INFO" + strings.Repeat("x", MaxResponseSize)),
			wantErr: true,
			errMsg:  "response too long",
		},
		{
			name:    "unknown prefix",
			packet:  []byte("WHAT is this"),
			wantErr: true,
			errMsg:  "unknown response prefix",
		},
		{
			name:    "lowercase prefix",
			packet:  []byte("okay"),
			wantErr: true,
			errMsg:  "unknown response prefix",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.packet)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %v, want substring %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", resp.Kind, tt.wantKind)
			}
			if resp.Message() != tt.wantPayload {
				t.Errorf("Message() = %q, want %q", resp.Message(), tt.wantPayload)
			}
			if resp.Final() != tt.wantFinal {
				t.Errorf("Final() = %v, want %v", resp.Final(), tt.wantFinal)
			}
		})
	}
}

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    uint32
		wantErr bool
	}{
		{name: "lowercase", payload: "0001f000", want: 0x1f000},
		{name: "uppercase", payload: "0001F000", want: 0x1f000},
		{name: "max", payload: "ffffffff", want: 0xffffffff},
		{name: "too short", payload: "1f000", wantErr: true},
		{name: "too long", payload: "000001f000", wantErr: true},
		{name: "not hex", payload: "0001g000", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDataSize([]byte(tt.payload))

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseDataSize() = 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    uint32
		wantErr bool
	}{
		{name: "prefixed hex", value: "0x20000000", want: 512 << 20},
		{name: "uppercase prefix", value: "0X08000000", want: 128 << 20},
		{name: "bare hex", value: "08000000", want: 128 << 20},
		{name: "surrounding whitespace", value: " 0x1000\n", want: 0x1000},
		{name: "empty", value: "", wantErr: true},
		{name: "prefix only", value: "0x", wantErr: true},
		{name: "not a number", value: "unknown", wantErr: true},
		{name: "overflows 32 bits", value: "0x100000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.value)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = 0x%x, want 0x%x", tt.value, got, tt.want)
			}
		})
	}
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Operation: "flash:boot", Message: "partition table doesn't exist"}
	if got := err.Error(); got != "flash:boot failed: partition table doesn't exist" {
		t.Errorf("Error() = %q", got)
	}

	empty := &ProtocolError{Operation: "erase:root"}
	if !strings.Contains(empty.Error(), "no reason") {
		t.Errorf("Error() = %q, want mention of missing reason", empty.Error())
	}

	if !IsProtocolError(err) {
		t.Error("IsProtocolError() = false for *ProtocolError")
	}
}

func BenchmarkParseResponse(b *testing.B) {
	packet := []byte("DATA0001f000")
	for i := 0; i < b.N; i++ {
		_, _ = ParseResponse(packet)
	}
}
