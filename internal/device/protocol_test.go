package device

import "testing"

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ResponseLine
	}{
		{
			name: "correlated response",
			raw:  "RSP a1b2c3d4 202 OK",
			want: ResponseLine{Kind: LineCorrelated, CorrelationID: "a1b2c3d4", Code: 202, Payload: "OK"},
		},
		{
			name: "correlated response with multi word payload",
			raw:  "RSP deadbeef 200 clip1.mov|clip2.mov loaded",
			want: ResponseLine{Kind: LineCorrelated, CorrelationID: "deadbeef", Code: 200, Payload: "clip1.mov|clip2.mov loaded"},
		},
		{
			name: "immediate status line",
			raw:  "202 PLAY OK",
			want: ResponseLine{Kind: LineUncorrelated, Code: 202, Payload: "PLAY OK"},
		},
		{
			name: "immediate status with embedded id token",
			raw:  "200 a1b2c3d4 OK",
			want: ResponseLine{Kind: LineUncorrelated, CorrelationID: "a1b2c3d4", Code: 200, Payload: "a1b2c3d4 OK"},
		},
		{
			name: "error status",
			raw:  "404 no such media",
			want: ResponseLine{Kind: LineUncorrelated, Code: 404, Payload: "no such media"},
		},
		{
			name: "bad correlation id falls through",
			raw:  "RSP nothex!! 200 OK",
			want: ResponseLine{Kind: LineUnrecognized},
		},
		{
			name: "garbage",
			raw:  "hello world",
			want: ResponseLine{Kind: LineUnrecognized},
		},
		{
			name: "empty",
			raw:  "",
			want: ResponseLine{Kind: LineUnrecognized},
		},
		{
			name: "code out of range",
			raw:  "42 not a status",
			want: ResponseLine{Kind: LineUnrecognized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyLine(tt.raw)
			if got.Kind != tt.want.Kind {
				t.Fatalf("kind = %v, want %v", got.Kind, tt.want.Kind)
			}
			if got.Kind == LineUnrecognized {
				return
			}
			if got.CorrelationID != tt.want.CorrelationID {
				t.Errorf("correlation id = %q, want %q", got.CorrelationID, tt.want.CorrelationID)
			}
			if got.Code != tt.want.Code {
				t.Errorf("code = %d, want %d", got.Code, tt.want.Code)
			}
			if got.Payload != tt.want.Payload {
				t.Errorf("payload = %q, want %q", got.Payload, tt.want.Payload)
			}
		})
	}
}

func TestResponseLineOk(t *testing.T) {
	tests := []struct {
		code int
		ok   bool
	}{
		{200, true},
		{202, true},
		{399, true},
		{400, false},
		{404, false},
		{500, false},
		{199, false},
	}
	for _, tt := range tests {
		line := ResponseLine{Code: tt.code}
		if line.Ok() != tt.ok {
			t.Errorf("Ok() for code %d = %v, want %v", tt.code, line.Ok(), tt.ok)
		}
	}
}
