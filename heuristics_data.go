/*
File: heuristics_data.go
Version: 1.0.0
Description: Built-in datasets for the override rules: protected brands, suspicious keywords and the
             default whitelist. Configuration can replace or extend each list.
*/

package main

// --- 1. Protected Brands ---
// Compared against the first label of the visited host by containment and edit distance.
var defaultBrands = []string{
	"paypal", "google", "facebook", "apple", "microsoft", "amazon",
	"netflix", "instagram", "linkedin", "whatsapp", "youtube", "github",
	"dropbox", "yahoo", "outlook", "twitter",
}

// --- 2. Corroborating Keywords ---
// A brand hit only becomes a verdict when the domain also carries one of these (or another signal).
var defaultKeywords = []string{
	"secure", "login", "verify", "account", "update", "confirm",
}

// --- 3. Whitelist ---
// Registrable domains that are categorically safe. Brand homes must be here or they would
// trip their own impersonation rule.
var defaultWhitelist = []string{
	"google.com", "youtube.com", "facebook.com", "github.com",
	"paypal.com", "apple.com", "microsoft.com", "amazon.com",
	"netflix.com", "instagram.com", "linkedin.com", "whatsapp.com",
	"dropbox.com", "yahoo.com", "outlook.com", "twitter.com",
	"live.com", "office.com", "wikipedia.org",
}
