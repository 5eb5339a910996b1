package zego

import (
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
)

// RtcRoomPayload is the token04 payload restricting a token to one room.
type RtcRoomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// GenerateRoomToken issues a ZEGOCLOUD token04 for userID in roomID. Publishers may push
// streams; everyone else may only log in and pull.
// serverSecret comes from the ZEGOCLOUD console and must be 32 characters.
func GenerateRoomToken(appID uint32, serverSecret, roomID, userID string, publisher bool, effectiveTimeSec int64) (string, error) {
	if appID == 0 || serverSecret == "" {
		return "", fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(serverSecret) != 32 {
		return "", fmt.Errorf("zego: server_secret must be 32 characters")
	}
	if roomID == "" || userID == "" {
		return "", fmt.Errorf("zego: room and user required")
	}
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if publisher {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payloadJSON, err := json.Marshal(RtcRoomPayload{RoomID: roomID, Privilege: privilege})
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	return token04.GenerateToken04(appID, userID, serverSecret, effectiveTimeSec, string(payloadJSON))
}
