package apperr

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Client-facing messages. English text is the catalog key.
const (
	MsgRateLimited         = "Too many requests, please try again later"
	MsgInvalidJSON         = "Invalid JSON body"
	MsgTableRequired       = "Table name is required"
	MsgInvalidTable        = "Invalid table name"
	MsgMaliciousInput      = "Potentially malicious input detected"
	MsgMaliciousIdentifier = "Potentially malicious identifier detected"
	MsgAuthRequired        = "Authentication required"
	MsgInvalidToken        = "Invalid or expired token"
	MsgForbidden           = "Insufficient permissions for this operation"
	MsgMethodRequired      = "Method is required"
	MsgInvalidMethod       = "Invalid method: %s"
	MsgReadOnly            = "Only SELECT is allowed on this endpoint"
	MsgDataRequired        = "Data is required for %s"
	MsgInvalidData         = "Data must be an object or a non-empty array of objects"
	MsgFilterRequired      = "A non-empty filter is required for %s"
	MsgInvalidFilter       = "Invalid filter for column %s"
	MsgInvalidOperator     = "Unsupported filter operator: %s"
	MsgInvalidOrder        = "Invalid order specification"
	MsgInvalidRange        = "Invalid range"
	MsgInvalidSelect       = "Invalid select clause"
	MsgColumnNotAccessible = "Column %s is not accessible"
	MsgRelationNotAllowed  = "Relation %s cannot be embedded here"
	MsgInvalidConflict     = "Invalid conflict target"
	MsgSingleNeedsSelect   = "single on %s requires a select clause"
	MsgReservedColumn      = "Column name %s is reserved"
	MsgCredentialsRequired = "Username and password are required"
	MsgInvalidCredentials  = "Invalid username or password"
	MsgAccountLocked       = "Too many failed login attempts, please try again later"
	MsgKeyRequired         = "Client key is required"
	MsgStoreUnavailable    = "Data store is temporarily unavailable"
	MsgInternal            = "Internal server error"
)

var turkish = map[string]string{
	MsgRateLimited:         "Çok fazla istek, lütfen daha sonra tekrar deneyin",
	MsgInvalidJSON:         "Geçersiz JSON gövdesi",
	MsgTableRequired:       "Tablo adı gerekli",
	MsgInvalidTable:        "Geçersiz tablo adı",
	MsgMaliciousInput:      "Potansiyel olarak zararlı girdi tespit edildi",
	MsgMaliciousIdentifier: "Potansiyel olarak zararlı tanımlayıcı tespit edildi",
	MsgAuthRequired:        "Kimlik doğrulama gerekli",
	MsgInvalidToken:        "Geçersiz veya süresi dolmuş oturum",
	MsgForbidden:           "Bu işlem için yetkiniz yok",
	MsgMethodRequired:      "Metot gerekli",
	MsgInvalidMethod:       "Geçersiz metot: %s",
	MsgReadOnly:            "Bu uç noktada yalnızca SELECT kullanılabilir",
	MsgDataRequired:        "%s için veri gerekli",
	MsgInvalidData:         "Veri bir nesne veya boş olmayan bir nesne dizisi olmalı",
	MsgFilterRequired:      "%s için boş olmayan bir filtre gerekli",
	MsgInvalidFilter:       "%s sütunu için geçersiz filtre",
	MsgInvalidOperator:     "Desteklenmeyen filtre operatörü: %s",
	MsgInvalidOrder:        "Geçersiz sıralama tanımı",
	MsgInvalidRange:        "Geçersiz aralık",
	MsgInvalidSelect:       "Geçersiz seçim ifadesi",
	MsgColumnNotAccessible: "%s sütununa erişilemez",
	MsgRelationNotAllowed:  "%s ilişkisi burada kullanılamaz",
	MsgInvalidConflict:     "Geçersiz çakışma hedefi",
	MsgSingleNeedsSelect:   "%s için single kullanımı bir seçim ifadesi gerektirir",
	MsgReservedColumn:      "%s sütun adı ayrılmış",
	MsgCredentialsRequired: "Kullanıcı adı ve şifre gerekli",
	MsgInvalidCredentials:  "Geçersiz kullanıcı adı veya şifre",
	MsgAccountLocked:       "Çok fazla başarısız giriş denemesi, lütfen daha sonra tekrar deneyin",
	MsgKeyRequired:         "İstemci anahtarı gerekli",
	MsgStoreUnavailable:    "Veri deposu geçici olarak kullanılamıyor",
	MsgInternal:            "Sunucu hatası",
}

var supported = []language.Tag{language.English, language.Turkish}

var matcher = language.NewMatcher(supported)

func init() {
	for key, msg := range turkish {
		if err := message.SetString(language.Turkish, key, msg); err != nil {
			panic(err)
		}
	}
}

// Language picks the response language from an Accept-Language header.
// English is the default.
func Language(acceptLanguage string) language.Tag {
	if acceptLanguage == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}
