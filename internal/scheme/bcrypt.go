package scheme

import "golang.org/x/crypto/bcrypt"

func init() {
	Register(Scheme{
		Name:     "BCRYPT",
		Verify:   verifyBcrypt,
		Generate: generateBcrypt,
	})
}

func verifyBcrypt(plaintext, stored string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext))
	if err == bcrypt.ErrMismatchedHashAndPassword {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func generateBcrypt(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
