// Package authcore implements the authentication and session core behind
// an identity service: credential verification with a uniform latency
// floor, TOTP and backup-code second factors, capped concurrent sessions
// with oldest-first eviction, and rotating refresh tokens with reuse
// detection.
//
// The engine is assembled with [New]:
//
//	engine, err := authcore.New().
//		WithRedis(redisClient).
//		WithStore(store).
//		WithAuditSink(sink).
//		Build()
//
// Durable state (credentials, sessions, devices, backup codes, the token
// blacklist) lives behind the [Store] interface; the postgres subpackage
// provides the reference implementation. Transient state (rate windows,
// lockout counters, MFA challenges, the session cache) lives in Redis.
// Engine instances hold no shared mutable state and can be run in any
// number of replicas against the same backends.
//
// Plaintext tokens exist only in return values. The store and the
// blacklist see SHA-256 hashes exclusively.
package authcore
