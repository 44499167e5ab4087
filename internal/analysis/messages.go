package analysis

// Supported message locales.
const (
	LocaleEnglish = "en"
	LocaleChinese = "zh"
)

var catalog = map[string]map[Reason]string{
	LocaleEnglish: {
		ReasonInput:   "Please choose an image file.",
		ReasonImage:   "The image format is invalid or could not be read. Please upload a clear photo of the product label.",
		ReasonNetwork: "Network connection failed. Please check your network and try again.",
		ReasonTimeout: "The request timed out. Please try again later.",
		ReasonConfig:  "The analysis service address is not configured.",
		ReasonParse:   "The analysis result could not be read. Please upload the image again.",
		ReasonServer:  "The analysis service ran into a problem. Please try again later.",
		ReasonUnknown: "Processing failed. Please try again.",
	},
	LocaleChinese: {
		ReasonInput:   "请选择图片文件",
		ReasonImage:   "图片格式错误或无法解析，请上传清晰的商品标签图片",
		ReasonNetwork: "网络连接失败，请检查网络后重试",
		ReasonTimeout: "请求超时，请稍后重试",
		ReasonConfig:  "未配置后端服务地址，请先设置后端服务地址",
		ReasonParse:   "数据解析失败，请重新上传图片",
		ReasonServer:  "服务器处理出错，请稍后重试",
		ReasonUnknown: "处理失败，请重试",
	},
}

// Message returns the user-facing text for a classification. Unknown locales
// fall back to English.
func Message(locale string, reason Reason) string {
	msgs, ok := catalog[locale]
	if !ok {
		msgs = catalog[LocaleEnglish]
	}
	if m, ok := msgs[reason]; ok {
		return m
	}
	return msgs[ReasonUnknown]
}

// SupportedLocale reports whether Message has a catalog for locale.
func SupportedLocale(locale string) bool {
	_, ok := catalog[locale]
	return ok
}
