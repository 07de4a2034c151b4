// Package config handles configuration loading for chat-devserver.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaulted and validated.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8090"
//	  allowed_origins: ["http://localhost:5173"]  # WebSocket origins; empty allows same host
//
//	database:
//	  path: "./chat.db"
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"  # at least 32 bytes
//
//	dedupe:
//	  ttl: "10m"        # how long a create idempotency key is remembered
//	  max_size: 10000
//
//	limits:
//	  messages_per_second: 5
//	  burst: 10
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	users:
//	  - id: "alice"
//	    display_name: "Alice"
//	    avatar_ref: "https://example.com/alice.png"
//
// Users listed here are created or updated on startup.
package config
