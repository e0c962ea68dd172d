package participant

import "strings"

const (
	participantPrefix = "/control/participant/"
	coordinatorPrefix = "/control/coordinator/"

	createTopic  = "create"
	aliveTopic   = "alive"
	offlineTopic = "offline"
	resultsTopic = "results"
)

// BaseTopic is the root of every topic used on channelID.
func BaseTopic(channelID string) string {
	return "channels/" + channelID + "/messages"
}

// ParticipantTopic is where participants publish events of the given kind.
func ParticipantTopic(channelID, kind string) string {
	return BaseTopic(channelID) + participantPrefix + kind
}

// RequestTopic is where the coordinator publishes requests for one participant.
func RequestTopic(channelID, participantID, kind string) string {
	return BaseTopic(channelID) + coordinatorPrefix + participantID + "/" + kind
}

// CoordinatorOfflineTopic carries the coordinator last will.
func CoordinatorOfflineTopic(channelID string) string {
	return BaseTopic(channelID) + coordinatorPrefix + offlineTopic
}

func eventKind(baseTopic, topic string) (string, bool) {
	return strings.CutPrefix(topic, baseTopic+participantPrefix)
}
