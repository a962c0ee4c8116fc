package common

// AccessTokenHeaderName carries a beneficiary portal access token.
const AccessTokenHeaderName = "X-Access-Token"

// TokenSize is the number of random bytes behind invitation tokens.
const TokenSize = 32
