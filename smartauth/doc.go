/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package smartauth implements the SMART App Launch sequence on top of fhirhttp, smarttoken and targetwindow.
//
// Authorizer.Authorize discovers the OAuth endpoints of the FHIR server, persists a State
// under a random key and navigates the target window to the authorization endpoint.
// Authorizer.Complete handles the redirect back to the app and exchanges the authorization code for tokens.
// Authorizer.Refresh renews the access token with the refresh token.
package smartauth
