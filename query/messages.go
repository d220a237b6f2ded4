package query

import (
	"strings"

	"github.com/goliatone/go-oauth-provider/core"
)

const (
	TypeVerifySignedRequest  = "oauthprovider.query.request.verify"
	TypeVerifyResourceAccess = "oauthprovider.query.resource.verify"
	TypeVerifyConnectLaunch  = "oauthprovider.query.connect.verify"
	TypeVerifySessionAccess  = "oauthprovider.query.session.verify"
	TypeGetRecord            = "oauthprovider.query.record.get"
	TypeGetAccount           = "oauthprovider.query.account.get"
)

type VerifySignedRequestMessage struct {
	Request core.SignedRequest
}

func (VerifySignedRequestMessage) Type() string { return TypeVerifySignedRequest }

func (m VerifySignedRequestMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return queryInvalidInputError("query: consumer key is required")
	}
	return nil
}

type VerifyResourceAccessMessage struct {
	Request core.SignedRequest
}

func (VerifyResourceAccessMessage) Type() string { return TypeVerifyResourceAccess }

func (m VerifyResourceAccessMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return queryInvalidInputError("query: consumer key is required")
	}
	if strings.TrimSpace(m.Request.Token()) == "" {
		return queryInvalidInputError("query: access token is required")
	}
	return nil
}

type VerifyConnectLaunchMessage struct {
	Request core.SignedRequest
}

func (VerifyConnectLaunchMessage) Type() string { return TypeVerifyConnectLaunch }

func (m VerifyConnectLaunchMessage) Validate() error {
	if strings.TrimSpace(m.Request.ConsumerKey()) == "" {
		return queryInvalidInputError("query: consumer key is required")
	}
	return nil
}

type VerifySessionAccessMessage struct {
	Request core.SignedRequest
}

func (VerifySessionAccessMessage) Type() string { return TypeVerifySessionAccess }

func (m VerifySessionAccessMessage) Validate() error {
	if strings.TrimSpace(m.Request.Token()) == "" {
		return queryInvalidInputError("query: session token is required")
	}
	return nil
}

type GetRecordMessage struct {
	RecordID string
}

func (GetRecordMessage) Type() string { return TypeGetRecord }

func (m GetRecordMessage) Validate() error {
	if strings.TrimSpace(m.RecordID) == "" {
		return queryInvalidInputError("query: record id is required")
	}
	return nil
}

type GetAccountMessage struct {
	AccountID string
	Email     string
}

func (GetAccountMessage) Type() string { return TypeGetAccount }

func (m GetAccountMessage) Validate() error {
	if strings.TrimSpace(m.AccountID) == "" && strings.TrimSpace(m.Email) == "" {
		return queryInvalidInputError("query: account id or email is required")
	}
	return nil
}
