package cache

import "fmt"

const (
	recentKeyPrefix   = "chat:recent:"
	unreadKeyPrefix   = "chat:unread:"
	onlineSetKey      = "chat:online"
	onlineConnsPrefix = "chat:online:conns:"
	roomKeyPrefix     = "chat:room:"
	roomOnlineSuffix  = ":online"
	roomConnsInfix    = ":conns:"
)

func recentKey(conversationID int64) string {
	return fmt.Sprintf("%s%d", recentKeyPrefix, conversationID)
}

func unreadKey(userID int64) string {
	return fmt.Sprintf("%s%d", unreadKeyPrefix, userID)
}

func userConnsKey(userID int64) string {
	return fmt.Sprintf("%s%d", onlineConnsPrefix, userID)
}

func roomOnlineKey(conversationID int64) string {
	return fmt.Sprintf("%s%d%s", roomKeyPrefix, conversationID, roomOnlineSuffix)
}

func roomConnsKey(conversationID, userID int64) string {
	return fmt.Sprintf("%s%d%s%d", roomKeyPrefix, conversationID, roomConnsInfix, userID)
}
