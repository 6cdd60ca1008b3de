// Package notify delivers the out-of-band email trigger for new chat messages.
//
// The API process enqueues a chat:message_notify task per message (AsynqNotifier) and the
// worker process consumes it (Worker), resolving the recipient and handing an Email to an
// EmailSender. Delivery is fire-and-forget from the sender's point of view: a failed
// enqueue is logged by the chat service and never fails the send.
package notify
