package internal

import (
	"bitwise74/school-api/internal/service"
	"bitwise74/school-api/internal/storage"
	"bitwise74/school-api/pkg/middleware"
	"bitwise74/school-api/pkg/security"

	"gorm.io/gorm"
)

// Deps is what handlers get access to
type Deps struct {
	DB       *gorm.DB
	Argon    *security.Argon2id
	Tokens   *security.TokenService
	Gate     *middleware.Gate
	Ledger   *service.FeeLedger
	Store    storage.ObjectStore
	Uploader *service.Uploader
	Mail     *service.MailQueue
	Notifier *service.Notifier
}
