package models

import "strings"

// Stream types understood by the synchronizer.
const (
	StreamWorkspaces   = "workspaces"
	StreamTransactions = "transactions"
)

func AccountScope(accountID string) string {
	return "account/" + accountID
}

func WorkspaceScope(accountID, workspaceID string) string {
	return AccountScope(accountID) + "/workspace/" + workspaceID
}

// AccountStreamKey identifies the membership stream of an account.
func AccountStreamKey(accountID string) string {
	return AccountScope(accountID) + "/" + StreamWorkspaces
}

// WorkspaceStreamKey identifies the transaction stream of a workspace.
func WorkspaceStreamKey(accountID, workspaceID string) string {
	return WorkspaceScope(accountID, workspaceID) + "/" + StreamTransactions
}

func OutboundJobKey(accountID, workspaceID string) string {
	return WorkspaceScope(accountID, workspaceID) + "/outbound"
}

func InboundWorkspaceJobKey(accountID, workspaceID string) string {
	return WorkspaceScope(accountID, workspaceID) + "/inbound"
}

func InboundAccountJobKey(accountID string) string {
	return AccountScope(accountID) + "/inbound/" + StreamWorkspaces
}

// InScope reports whether key equals scope or lies below it.
func InScope(key, scope string) bool {
	return key == scope || strings.HasPrefix(key, scope+"/")
}
