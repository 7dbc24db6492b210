/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package smarttoken interprets OAuth2 token responses received by SMART apps:
// it computes the access token expiration and decodes JWT claims without verifying signatures.
package smarttoken
