package p2p

import (
	"context"
	"fmt"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/mezonai/certsync/consensus"
	"github.com/mezonai/certsync/errors"
	"github.com/mezonai/certsync/jsonx"
	"github.com/mezonai/certsync/logx"
)

// BroadcastVote gossips a locally signed vote to the other validators
func (n *Network) BroadcastVote(ctx context.Context, vote *consensus.Vote) error {
	data, err := jsonx.Marshal(vote)
	if err != nil {
		return err
	}
	if err := n.topicVotes.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish vote: %w", err)
	}
	return nil
}

// announceCertificates publishes the certificate cursor every time it advances
func (n *Network) announceCertificates(ctx context.Context) error {
	next := n.bs.NextCertificate()
	for {
		if err := n.bs.WaitUntilCertificatePersisted(ctx, next); err != nil {
			if errors.IsCancelled(err) {
				return nil
			}
			return err
		}
		next = n.bs.NextCertificate()

		data, err := jsonx.Marshal(CertAnnouncement{Number: next - 1})
		if err != nil {
			return err
		}
		if err := n.topicCerts.Publish(ctx, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logx.Warn("PUBSUB", "Failed to announce certificate ", next-1, ": ", err)
		}
	}
}

func nextMessage(ctx context.Context, sub *pubsub.Subscription) (*pubsub.Message, bool) {
	msg, err := sub.Next(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logx.Error("PUBSUB", "Subscription ", sub.Topic(), " ended: ", err)
		}
		return nil, false
	}
	return msg, true
}

func (n *Network) handleCertTopic(ctx context.Context, sub *pubsub.Subscription) error {
	for {
		msg, ok := nextMessage(ctx, sub)
		if !ok {
			return nil
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		var ann CertAnnouncement
		if err := jsonx.Unmarshal(msg.Data, &ann); err != nil {
			logx.Warn("PUBSUB", "Bad certificate announcement from ", msg.ReceivedFrom.String(), ": ", err)
			continue
		}
		n.observeHeight(msg.GetFrom(), ann.Number)
	}
}

func (n *Network) handleVoteTopic(ctx context.Context, sub *pubsub.Subscription) error {
	for {
		msg, ok := nextMessage(ctx, sub)
		if !ok {
			return nil
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}
		var vote consensus.Vote
		if err := jsonx.Unmarshal(msg.Data, &vote); err != nil {
			logx.Warn("PUBSUB", "Bad vote from ", msg.ReceivedFrom.String(), ": ", err)
			continue
		}

		n.voteMu.RLock()
		onVote := n.onVote
		n.voteMu.RUnlock()
		if onVote == nil {
			continue
		}
		if err := onVote(&vote); err != nil {
			logx.Warn("VOTE", "Rejected vote for block ", vote.Number, " from ", msg.ReceivedFrom.String(), ": ", err)
		}
	}
}
