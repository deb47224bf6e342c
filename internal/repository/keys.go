package repository

import "doccontrol/internal/model"

// Key layout:
//
//	org/{orgId}
//	memberships/{userId}
//	docs/{orgId}/{fileName}
//	docRequests/{orgId}/{fileName}
//	fileNames/{orgId}/{fileName}
//	docHistory/{orgId}/{fileName}
//	history/{auditEntryId}
//	notifications/{userId}/{notificationId}

// DocumentKey is the key of a document or request inside its collection.
func DocumentKey(ref model.DocumentRef) string {
	return ref.OrganizationID + "/" + ref.FileName
}

// OrgPrefix scopes a query to one organization's documents or requests.
func OrgPrefix(orgID string) string {
	return orgID + "/"
}

// NotificationKey is the key of a notification in its recipient's inbox.
func NotificationKey(userID, notificationID string) string {
	return userID + "/" + notificationID
}

// InboxPrefix scopes a query to one user's notifications.
func InboxPrefix(userID string) string {
	return userID + "/"
}
