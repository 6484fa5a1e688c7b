//go:build ignore
// +build ignore

// generate_hash.go — утилита для генерации Argon2id хеша ключа администратора.
// Запуск: go run scripts/generate_hash.go ваш_ключ
//
// Результат вставьте в .env как ADMIN_KEY_HASH.
package main

import (
	"fmt"
	"os"

	"serotonyl.ru/credit-ledger/internal/server/middleware"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Использование: go run scripts/generate_hash.go <ключ>")
		os.Exit(1)
	}

	// Те же параметры, что проверяет middleware.AdminKey
	result, err := middleware.HashArgon2id(os.Args[1])
	if err != nil {
		fmt.Printf("Ошибка генерации хеша: %v\n", err)
		os.Exit(1)
	}

	if !middleware.VerifyArgon2id(os.Args[1], result) {
		fmt.Println("Сгенерированный хеш не прошёл проверку")
		os.Exit(1)
	}

	fmt.Println("Хеш ключа (вставьте в .env как ADMIN_KEY_HASH):")
	fmt.Println(result)
}
