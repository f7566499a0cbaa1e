package arena

import "github.com/yndnr/rollmesh-go/internal/core/domain"

// BotInput is a scripted input for unattended peers: each handle walks a
// different square and fires every 45 frames.
func BotInput(handle int, frame domain.Frame) domain.Input {
	legs := [4]byte{InputRight, InputUp, InputLeft, InputDown}
	leg := (int(frame)/30 + handle) % len(legs)

	bits := legs[leg]
	if (int(frame)+handle*7)%45 == 0 {
		bits |= InputFire
	}
	return domain.Input{bits}
}
