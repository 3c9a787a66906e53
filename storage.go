package common

import "github.com/Connect-Club/connectclub-meet-common/storage"

type PublicStorage interface {
	storage.Storage
}

func SetStorage(s PublicStorage) {
	storage.Set(s)
}

// Logout forgets the stored session tokens.
func Logout() {
	storage.Get().Delete(storage.KeyAccessToken)
	storage.Get().Delete(storage.KeyRefreshToken)
}
