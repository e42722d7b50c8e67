package api

import (
	"time"

	"github.com/louisbranch/sealbox/internal/events"
	"github.com/louisbranch/sealbox/internal/ledger"
	"github.com/louisbranch/sealbox/internal/token"
)

type identityView struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
}

type sealedKeyView struct {
	CipherUX string `json:"cipher_u_x"`
	CipherUY string `json:"cipher_u_y"`
	CipherV  string `json:"cipher_v"`
	CipherW  string `json:"cipher_w"`
}

type releasedKeyView struct {
	X string `json:"x"`
	Y string `json:"y"`
}

type tokenView struct {
	ID                   int64            `json:"id"`
	Sender               string           `json:"sender"`
	Recipient            identityView     `json:"recipient"`
	DeadlineAccept       time.Time        `json:"deadline_accept"`
	DeadlineKeyRelease   time.Time        `json:"deadline_key_release"`
	MessageHash          string           `json:"message_hash"`
	EncryptedMessageHash string           `json:"encrypted_message_hash"`
	SealedKey            sealedKeyView    `json:"sealed_key"`
	State                string           `json:"state"`
	Owner                string           `json:"owner,omitempty"`
	TransferableTo       string           `json:"transferable_to,omitempty"`
	ReleasedKey          *releasedKeyView `json:"released_key,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func newTokenView(t token.Token) tokenView {
	view := tokenView{
		ID:     t.ID,
		Sender: t.Sender,
		Recipient: identityView{
			Address:   t.Recipient.Address,
			Timestamp: t.Recipient.Timestamp.UTC().Unix(),
		},
		DeadlineAccept:       t.DeadlineAccept,
		DeadlineKeyRelease:   t.DeadlineKeyRelease,
		MessageHash:          t.MessageHash,
		EncryptedMessageHash: t.EncryptedMessageHash,
		SealedKey: sealedKeyView{
			CipherUX: t.SealedKey.CipherUX,
			CipherUY: t.SealedKey.CipherUY,
			CipherV:  t.SealedKey.CipherV,
			CipherW:  t.SealedKey.CipherW,
		},
		State:          token.StateLabel(t.State),
		Owner:          t.Owner,
		TransferableTo: t.TransferableTo,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
	if !t.ReleasedKey.IsZero() {
		view.ReleasedKey = &releasedKeyView{X: t.ReleasedKey.X, Y: t.ReleasedKey.Y}
	}
	return view
}

type eventView struct {
	Seq       int64             `json:"seq"`
	TokenID   int64             `json:"token_id"`
	Type      string            `json:"type"`
	Actor     string            `json:"actor,omitempty"`
	FromState string            `json:"from_state,omitempty"`
	ToState   string            `json:"to_state"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newEventViews(evts []events.Event) []eventView {
	views := make([]eventView, 0, len(evts))
	for _, evt := range evts {
		views = append(views, eventView{
			Seq:       evt.Seq,
			TokenID:   evt.TokenID,
			Type:      string(evt.Type),
			Actor:     evt.Actor,
			FromState: evt.FromState,
			ToState:   evt.ToState,
			Payload:   evt.Payload,
			Timestamp: evt.Timestamp,
		})
	}
	return views
}

type paramsView struct {
	Name          string    `json:"name"`
	Symbol        string    `json:"symbol"`
	KeyIssuer     string    `json:"key_issuer"`
	IV            string    `json:"iv"`
	FieldOrder    string    `json:"field_order"`
	SubgroupOrder string    `json:"subgroup_order"`
	PointP        [2]string `json:"point_p"`
	PointPPublic  [2]string `json:"point_p_public"`
}

func newParamsView(p ledger.Params) paramsView {
	return paramsView{
		Name:          p.Name,
		Symbol:        p.Symbol,
		KeyIssuer:     p.KeyIssuer,
		IV:            p.IV,
		FieldOrder:    p.FieldOrder,
		SubgroupOrder: p.SubgroupOrder,
		PointP:        p.PointP,
		PointPPublic:  p.PointPPublic,
	}
}
