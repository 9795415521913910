package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"backend/internal/auth"
)

// 签发服务间调用令牌，供部署脚本与联调使用。
// 密钥从 JWT_SECRET_KEY 环境变量读取，与服务端保持一致。
func main() {
	service := flag.String("service", "", "调用方服务名，如 chat-api / payment-webhook")
	issuer := flag.String("issuer", "chat-wallet", "令牌签发者")
	flag.Parse()

	if strings.TrimSpace(*service) == "" {
		log.Fatal("必须指定 -service")
	}

	secret := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY"))
	if secret == "" {
		log.Fatal("JWT_SECRET_KEY 未配置")
	}

	jwtService := auth.NewJWTService(secret, *issuer)
	token, err := jwtService.GenerateServiceToken(*service)
	if err != nil {
		log.Fatalf("签发令牌失败: %v", err)
	}

	fmt.Println(token)
}
