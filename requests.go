package cfxbridge

import (
	"fmt"
	"net/url"
)

// OpenRequest asks for an endpoint to be opened.
type OpenRequest struct {
	Handle string `json:"handle"`
}

func (r OpenRequest) Validate() error {
	return requireField("handle", r.Handle)
}

// CloseRequest asks for an endpoint to be closed.
type CloseRequest struct {
	Handle string `json:"handle"`
}

func (r CloseRequest) Validate() error {
	return requireField("handle", r.Handle)
}

// AddPublishChannelRequest asks for a publish channel to be tested and
// added to an endpoint.
type AddPublishChannelRequest struct {
	Handle     string `json:"handle"`
	BrokerURI  string `json:"brokerUri"`
	AMQPTarget string `json:"amqpTarget"`
}

func (r AddPublishChannelRequest) Validate() error {
	_, err := r.channel()
	return err
}

func (r AddPublishChannelRequest) channel() (ChannelAddress, error) {
	if err := requireField("handle", r.Handle); err != nil {
		return ChannelAddress{}, err
	}
	return channelAddress(r.BrokerURI, "amqpTarget", r.AMQPTarget)
}

// AddSubscribeChannelRequest asks for a subscribe channel to be tested and
// added to an endpoint.
type AddSubscribeChannelRequest struct {
	Handle      string `json:"handle"`
	BrokerURI   string `json:"brokerUri"`
	SourceQueue string `json:"sourceQueue"`
}

func (r AddSubscribeChannelRequest) Validate() error {
	_, err := r.channel()
	return err
}

func (r AddSubscribeChannelRequest) channel() (ChannelAddress, error) {
	if err := requireField("handle", r.Handle); err != nil {
		return ChannelAddress{}, err
	}
	return channelAddress(r.BrokerURI, "sourceQueue", r.SourceQueue)
}

// PublishRequest asks for a message to be published from an endpoint.
// DataJSON is the textual form of the message.
type PublishRequest struct {
	Handle     string `json:"handle"`
	BrokerURI  string `json:"brokerUri"`
	AMQPTarget string `json:"amqpTarget"`
	DataJSON   string `json:"dataJSON"`
}

func (r PublishRequest) Validate() error {
	_, err := r.channel()
	return err
}

func (r PublishRequest) channel() (ChannelAddress, error) {
	if err := requireField("handle", r.Handle); err != nil {
		return ChannelAddress{}, err
	}
	if err := requireField("dataJSON", r.DataJSON); err != nil {
		return ChannelAddress{}, err
	}
	return channelAddress(r.BrokerURI, "amqpTarget", r.AMQPTarget)
}

// RegisterListenerRequest binds a callback to an endpoint's inbound
// messages.
type RegisterListenerRequest struct {
	Handle   string   `json:"handle"`
	Callback Callback `json:"-"`
}

func (r RegisterListenerRequest) Validate() error {
	if err := requireField("handle", r.Handle); err != nil {
		return err
	}
	if r.Callback == nil {
		return fmt.Errorf("%w: callback is required", ErrInvalidRequest)
	}
	return nil
}

// UnregisterListenerRequest removes an endpoint's message callback.
type UnregisterListenerRequest struct {
	Handle string `json:"handle"`
}

func (r UnregisterListenerRequest) Validate() error {
	return requireField("handle", r.Handle)
}

// RegisterConnectionEventRequest binds a callback to an endpoint's
// connection state changes.
type RegisterConnectionEventRequest struct {
	Handle   string   `json:"handle"`
	Callback Callback `json:"-"`
}

func (r RegisterConnectionEventRequest) Validate() error {
	if err := requireField("handle", r.Handle); err != nil {
		return err
	}
	if r.Callback == nil {
		return fmt.Errorf("%w: callback is required", ErrInvalidRequest)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidRequest, name)
	}
	return nil
}

func channelAddress(brokerURI, addressField, address string) (ChannelAddress, error) {
	if err := requireField("brokerUri", brokerURI); err != nil {
		return ChannelAddress{}, err
	}
	if err := requireField(addressField, address); err != nil {
		return ChannelAddress{}, err
	}
	u, err := url.Parse(brokerURI)
	if err != nil {
		return ChannelAddress{}, fmt.Errorf("%w: brokerUri: %v", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return ChannelAddress{}, fmt.Errorf("%w: brokerUri %q must be an absolute URI with a host", ErrInvalidRequest, brokerURI)
	}
	return ChannelAddress{URI: u, Address: address}, nil
}
