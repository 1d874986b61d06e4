package bridge

import "testing"

func TestNetworkRPCCallRoundTrip(t *testing.T) {
	n := NewNetworkRPC()
	stop := make(chan struct{})
	defer close(stop)

	go n.Serve(fakeAdaptor{}, stop)

	resp := n.Call(RPCRequest{Op: RPCCreate, Fd: -1, Arg1: 2, Arg2: 1})
	if resp.Result != 3 {
		t.Fatalf("Call(RPCCreate) result = %d, want 3", resp.Result)
	}
}

func TestNopAdaptorRefusesEverything(t *testing.T) {
	resp := NopAdaptor{}.Serve(RPCRequest{Op: RPCConnect, Fd: 3})
	if resp.Result != -econnrefused {
		t.Fatalf("NopAdaptor.Serve() result = %d, want %d", resp.Result, -econnrefused)
	}
}

type fakeAdaptor struct{}

func (fakeAdaptor) Serve(req RPCRequest) RPCResponse {
	if req.Op == RPCCreate {
		return RPCResponse{Result: 3}
	}
	return RPCResponse{Result: -1}
}
