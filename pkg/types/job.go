package types

type JobType string

const (
	JobTypeProvisionSubscription JobType = "provision_subscription"
	JobTypeSyncServers           JobType = "sync_servers"
	JobTypeSyncUsers             JobType = "sync_users"
	JobTypeReconcile             JobType = "reconcile"
	JobTypeSendNotifications     JobType = "send_notifications"
)

// AdminJobTypes can be triggered by operators once per day.
var AdminJobTypes = []JobType{JobTypeSyncServers, JobTypeSyncUsers, JobTypeReconcile}

func (t JobType) IsAdmin() bool {
	for _, v := range AdminJobTypes {
		if v == t {
			return true
		}
	}
	return false
}

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

type NotificationKind string

const (
	NotificationKindDeliveryLink       NotificationKind = "delivery_link"
	NotificationKindSupportReply       NotificationKind = "support_reply"
	NotificationKindSubscriptionNotice NotificationKind = "subscription_notice"
)

type NoticeType string

const (
	NoticeTypeExpires3d NoticeType = "expires_3d"
	NoticeTypeExpires1d NoticeType = "expires_1d"
	NoticeTypeExpired   NoticeType = "expired"
)
