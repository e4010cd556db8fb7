package i18n

import (
	"strings"
	"sync/atomic"
)

var locale atomic.Value

func init() {
	locale.Store("vi")
}

// SetLocale switches translation on ("vi") or off (anything else).
func SetLocale(l string) {
	locale.Store(strings.ToLower(strings.TrimSpace(l)))
}

var translations = map[string]string{
	"connection error":                     "Lỗi kết nối",
	"connected":                            "Đã kết nối",
	"disconnected":                         "Mất kết nối",
	"please select a conversation":         "Vui lòng chọn cuộc trò chuyện",
	"connection lost, please reconnect":    "Mất kết nối! Vui lòng kết nối lại",
	"file too large (max 10MB)":            "File quá lớn! Tối đa 10MB",
	"upload failed, please try again":      "Upload thất bại! Vui lòng thử lại",
	"an upload is already in progress":     "Đang tải file lên, vui lòng đợi",
	"failed to send message":               "Lỗi khi gửi tin nhắn!",
	"session expired, please log in again": "Phiên đăng nhập hết hạn, vui lòng đăng nhập lại",
	"not logged in":                        "Chưa đăng nhập",
	"no conversations":                     "Chưa có cuộc trò chuyện nào",
	"select a conversation to start":       "Chọn một cuộc trò chuyện để bắt đầu",
	"no messages yet":                      "Chưa có tin nhắn nào",
	"loading messages...":                  "Đang tải tin nhắn...",
	"no messages":                          "Chưa có tin nhắn",
	"typing...":                            "đang nhập...",
	"invalid request":                      "Yêu cầu không hợp lệ",
	"unauthorized":                         "Không có quyền truy cập",
	"missing authorization token":          "Thiếu token xác thực",
	"invalid token":                        "Token không hợp lệ",
	"conversation not found":               "Không tìm thấy cuộc trò chuyện",
	"failed to fetch conversations":        "Lỗi khi tải danh sách cuộc trò chuyện",
	"failed to fetch messages":             "Lỗi khi tải tin nhắn",
	"file is required":                     "Thiếu file",
	"file too large":                       "File quá lớn",
	"failed to save file":                  "Lỗi khi lưu file",
	"rate limiter error":                   "Lỗi giới hạn tần suất",
	"rate limit exceeded":                  "Vượt quá giới hạn yêu cầu",
	"internal server error":                "Lỗi máy chủ",
	"not found":                            "Không tìm thấy",
	"invalid email or password":            "Email hoặc mật khẩu không đúng",
	"conversation is closed":               "Cuộc trò chuyện đã đóng",
	"failed to close conversation":         "Lỗi khi đóng cuộc trò chuyện",
	"no users":                             "Chưa có người dùng nào",
	"active":                               "Hoạt động",
	"inactive":                             "Đã khóa",
	"page":                                 "Trang",
	"user not found":                       "Không tìm thấy người dùng",
	"failed to fetch users":                "Lỗi khi tải danh sách người dùng",
	"failed to update user":                "Lỗi khi cập nhật người dùng",
	"failed to load profile":               "Lỗi khi tải hồ sơ",
	"user activated":                       "Đã mở khóa người dùng",
	"user deactivated":                     "Đã khóa người dùng",
}

var prefixTranslations = map[string]string{
	"failed to send message:": "Gửi tin thất bại:",
	"cannot read file:":       "Không đọc được file:",
	"new message from ":       "Tin nhắn mới từ",
}

// Translate returns the localized form of message. Prefixed messages keep
// whatever follows the prefix.
func Translate(message string) string {
	if l, _ := locale.Load().(string); l != "vi" {
		return message
	}
	if translated, ok := translations[message]; ok {
		return translated
	}
	for prefix, translated := range prefixTranslations {
		if strings.HasPrefix(message, prefix) {
			return translated + " " + strings.TrimSpace(strings.TrimPrefix(message, prefix))
		}
	}
	return message
}
