//go:build linux

package probe

import "golang.org/x/sys/unix"

// classify turns a reaped probeCtx into the Result tagged union, per
// spec.md §4.1's "Classification to ProbeResult".
func classify(p *probeCtx) Result {
	base := Result{
		ID:        p.req.ID,
		Sequence:  p.req.Sequence,
		Remote:    p.remote,
		ProbeSize: p.req.Size,
		Overhead:  p.overhead,
	}

	switch p.status {
	case StatusFatalError:
		base.Kind = ResultUnknown
		base.Message = p.message
		return base

	case StatusTimeout:
		base.Kind = ResultTimeout
		return base

	case StatusSuccess:
		base.Kind = ResultSuccess
		base.ElapsedUsec = p.receivedAt.Sub(p.sentAt).Microseconds()
		base.ReplyTTL = p.replyTTL
		base.Data = p.replyBuf
		return base

	case StatusNetError:
		base.Offender = p.offender
		base.ElapsedUsec = p.receivedAt.Sub(p.sentAt).Microseconds()
		switch p.errNo {
		case int(unix.ECONNREFUSED):
			base.Kind = ResultConnectionRefused
		case int(unix.EHOSTUNREACH):
			base.Kind = ResultHostUnreachable
		case int(unix.ENETUNREACH):
			base.Kind = ResultNetUnreachable
		default:
			base.Kind = ResultNetError
			base.ErrNo = p.errNo
			base.ErrCode = p.errCode
			base.ErrType = p.errType
			base.ErrInfo = p.errInfo
		}
		return base

	default:
		base.Kind = ResultUnknown
		base.Message = "unclassified probe status"
		return base
	}
}
