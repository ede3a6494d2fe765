package scheme

func init() {
	Register(Scheme{
		Name:     "PLAIN",
		Verify:   verifyPlain,
		Generate: generatePlain,
	})
}

func verifyPlain(plaintext, stored string) (bool, error) {
	return plaintext == stored, nil
}

func generatePlain(plaintext string) (string, error) {
	return plaintext, nil
}
