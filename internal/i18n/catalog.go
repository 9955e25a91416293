// Package i18n holds the user-facing messages of the API in every supported locale.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	MsgUnauthorized        = "unauthorized"
	MsgInvalidCredential   = "invalid_credential"
	MsgQuotaExceeded       = "quota_exceeded"
	MsgUpstreamUnavailable = "upstream_unavailable"
	MsgCheckoutFailed      = "checkout_failed"
	MsgRateLimited         = "rate_limited"
	MsgBadRequest          = "bad_request"
	MsgMeteredUnavailable  = "metered_unavailable"
)

// Supported lists the locales with translations; the first entry is the fallback.
var Supported = []language.Tag{language.English, language.Indonesian, language.Spanish}

var entries = map[string]map[language.Tag]string{
	MsgUnauthorized: {
		language.English:    "Could not validate credentials",
		language.Indonesian: "Kredensial tidak dapat divalidasi",
		language.Spanish:    "No se pudieron validar las credenciales",
	},
	MsgInvalidCredential: {
		language.English:    "Invalid Google token",
		language.Indonesian: "Token Google tidak valid",
		language.Spanish:    "Token de Google no válido",
	},
	MsgQuotaExceeded: {
		language.English:    "You have used all %d free generations. Upgrade to Premium for unlimited access.",
		language.Indonesian: "Anda telah memakai semua %d generasi gratis. Tingkatkan ke Premium untuk akses tanpa batas.",
		language.Spanish:    "Has usado las %d generaciones gratuitas. Mejora a Premium para acceso ilimitado.",
	},
	MsgUpstreamUnavailable: {
		language.English:    "Service temporarily unavailable, please retry",
		language.Indonesian: "Layanan sementara tidak tersedia, silakan coba lagi",
		language.Spanish:    "Servicio no disponible temporalmente, inténtalo de nuevo",
	},
	MsgCheckoutFailed: {
		language.English:    "Could not start checkout",
		language.Indonesian: "Tidak dapat memulai pembayaran",
		language.Spanish:    "No se pudo iniciar el pago",
	},
	MsgRateLimited: {
		language.English:    "Too many requests",
		language.Indonesian: "Terlalu banyak permintaan",
		language.Spanish:    "Demasiadas solicitudes",
	},
	MsgBadRequest: {
		language.English:    "Malformed request",
		language.Indonesian: "Permintaan tidak valid",
		language.Spanish:    "Solicitud mal formada",
	},
	MsgMeteredUnavailable: {
		language.English:    "Generation backend is not configured",
		language.Indonesian: "Layanan generasi belum dikonfigurasi",
		language.Spanish:    "El servicio de generación no está configurado",
	},
}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(Supported)
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for key, byLang := range entries {
		for tag, text := range byLang {
			if err := b.SetString(tag, key, text); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Match picks the best supported locale for the given preferences, most preferred first.
func Match(prefs ...language.Tag) language.Tag {
	if len(prefs) == 0 {
		return Supported[0]
	}
	_, idx, conf := matcher.Match(prefs...)
	if conf == language.No {
		return Supported[0]
	}
	return Supported[idx]
}

// Text renders key in locale, formatting args into the message.
func Text(locale language.Tag, key string, args ...any) string {
	return message.NewPrinter(locale, message.Catalog(cat)).Sprintf(key, args...)
}
