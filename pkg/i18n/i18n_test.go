package i18n

import "testing"

func TestTranslate(t *testing.T) {
	SetLocale("vi")
	defer SetLocale("vi")

	tests := []struct {
		in   string
		want string
	}{
		{in: "connection error", want: "Lỗi kết nối"},
		{in: "failed to send message: conversation closed", want: "Gửi tin thất bại: conversation closed"},
		{in: "new message from Lan", want: "Tin nhắn mới từ Lan"},
		{in: "something unknown", want: "something unknown"},
	}

	for _, tt := range tests {
		if got := Translate(tt.in); got != tt.want {
			t.Fatalf("Translate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTranslateDisabled(t *testing.T) {
	SetLocale("en")
	defer SetLocale("vi")

	if got := Translate("connection error"); got != "connection error" {
		t.Fatalf("Translate with en locale = %q", got)
	}
}
