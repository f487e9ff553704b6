package dispatch

import (
	"context"
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/session"
)

func (d *Dispatcher) connect(ctx context.Context, p params) (any, error) {
	kind, err := p.str("type", string(session.KindSerial))
	if err != nil {
		return nil, err
	}

	cp := session.ConnectParams{Kind: session.TransportKind(kind)}
	switch cp.Kind {
	case session.KindTCP:
		if cp.Host, err = p.str("host", d.defaults.TCPHost); err != nil {
			return nil, err
		}
		if cp.Port, err = p.int("tcp_port", d.defaults.TCPPort); err != nil {
			return nil, err
		}
		if cp.Port <= 0 || cp.Port > 65535 {
			return nil, &paramError{name: "tcp_port", reason: "must be between 1 and 65535"}
		}
	case session.KindSerial:
		if cp.SerialPort, err = p.str("port", d.defaults.SerialPort); err != nil {
			return nil, err
		}
		if cp.Baud, err = p.int("baud", d.defaults.Baud); err != nil {
			return nil, err
		}
		if cp.Baud <= 0 {
			return nil, &paramError{name: "baud", reason: "must be positive"}
		}
	default:
		return nil, &paramError{name: "type", reason: `must be "serial" or "tcp"`}
	}

	self, err := d.session.Connect(ctx, cp)
	if err != nil {
		return nil, err
	}
	return map[string]any{"connected": true, "self_info": self}, nil
}

func (d *Dispatcher) disconnect(ctx context.Context, _ params) (any, error) {
	d.session.Disconnect(ctx)
	return map[string]any{"connected": false}, nil
}

func (d *Dispatcher) getSelfInfo(_ context.Context, _ params) (any, error) {
	return d.session.SelfInfo()
}

func (d *Dispatcher) getContacts(ctx context.Context, _ params) (any, error) {
	return d.session.Contacts(ctx)
}

func (d *Dispatcher) sendMessage(ctx context.Context, p params) (any, error) {
	text, err := p.str("text", "")
	if err != nil {
		return nil, err
	}
	to, err := p.str("to", "")
	if err != nil {
		return nil, err
	}
	channel, err := p.int("channel", d.defaults.Channel)
	if err != nil {
		return nil, err
	}

	if err := d.session.SendMessage(ctx, text, to, channel); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

func (d *Dispatcher) sendAdvert(ctx context.Context, p params) (any, error) {
	flood, err := p.boolean("flood", false)
	if err != nil {
		return nil, err
	}
	if err := d.session.SendAdvert(ctx, flood); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true}, nil
}

func (d *Dispatcher) login(ctx context.Context, p params) (any, error) {
	key, err := p.requiredStr("public_key")
	if err != nil {
		return nil, err
	}
	password, err := p.str("password", "")
	if err != nil {
		return nil, err
	}

	if err := d.session.Login(ctx, key, password); err != nil {
		return nil, err
	}
	return map[string]any{"logged_in": true}, nil
}

func (d *Dispatcher) getStatus(ctx context.Context, p params) (any, error) {
	key, err := p.requiredStr("public_key")
	if err != nil {
		return nil, err
	}

	timeout := d.defaults.StatusTimeout
	if secs, ok, err := p.float("timeout"); err != nil {
		return nil, err
	} else if ok {
		if secs <= 0 {
			return nil, &paramError{name: "timeout", reason: "must be positive"}
		}
		timeout = time.Duration(secs * float64(time.Second))
	}

	return d.session.Status(ctx, key, timeout)
}

func (d *Dispatcher) setName(ctx context.Context, p params) (any, error) {
	name, err := p.requiredStr("name")
	if err != nil {
		return nil, err
	}
	if err := d.session.SetName(ctx, name); err != nil {
		return nil, err
	}
	return map[string]any{"name": name}, nil
}

func (d *Dispatcher) setRadio(ctx context.Context, p params) (any, error) {
	freq, err := p.requiredFloat("freq")
	if err != nil {
		return nil, err
	}
	bw, err := p.requiredFloat("bw")
	if err != nil {
		return nil, err
	}
	sf, err := p.requiredInt("sf")
	if err != nil {
		return nil, err
	}
	cr, err := p.requiredInt("cr")
	if err != nil {
		return nil, err
	}

	if err := d.session.SetRadio(ctx, freq, bw, sf, cr); err != nil {
		return nil, err
	}
	return map[string]any{"set": true}, nil
}

// shutdown disconnects and asks the bridge to stop. The response is still
// written; the loop stops before reading another line.
func (d *Dispatcher) shutdown(ctx context.Context, _ params) (any, error) {
	d.session.Disconnect(ctx)
	if d.stopper != nil {
		d.stopper.Stop()
	}
	d.logger.Info("shutdown requested by caller")
	return map[string]any{"shutdown": true}, nil
}

func (d *Dispatcher) ping(_ context.Context, _ params) (any, error) {
	return "pong", nil
}

func (d *Dispatcher) listPorts(_ context.Context, _ params) (any, error) {
	if d.ports == nil {
		return []string{}, nil
	}
	return d.ports()
}
