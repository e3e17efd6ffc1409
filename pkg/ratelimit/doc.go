// Package ratelimit keeps imgharvest polite towards search engines and image
// hosts.
//
// Two mechanisms live here. A Limiter (token bucket or sliding window) caps
// individual HTTP requests. A Pacer decides the mandatory pause between two
// categories: Fixed, Jitter (bounded random) or Adaptive, which adds
// exponential backoff while the engine keeps answering with rate-limit errors.
package ratelimit
