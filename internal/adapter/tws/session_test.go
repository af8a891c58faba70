package tws

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/quantfold/ibsim/internal/protocol/twsapi"
	"github.com/quantfold/ibsim/pkg/store"
)

type stubBroker struct {
	next int64
}

func (b *stubBroker) NextOrderID() int64 {
	b.next++
	return 999 + b.next
}

type frame struct {
	kind   int64
	fields []string
}

// testClient drives one session over an in-process pipe and collects the
// frames the gateway writes.
type testClient struct {
	conn   net.Conn
	frames chan frame
	cancel context.CancelFunc
}

func startSession(t *testing.T, cfg Config) (*testClient, *store.Store, *Session) {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Seed(context.Background(), []store.SeedAccount{
		{AccountID: "DU123456", Password: "demo"},
	}); err != nil {
		t.Fatal(err)
	}

	if cfg.ServerVersion == 0 {
		cfg.ServerVersion = 176
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 50
	}

	serverConn, clientConn := net.Pipe()
	sess := NewSession(serverConn, st, &stubBroker{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go sess.Serve(ctx)

	c := &testClient{conn: clientConn, frames: make(chan frame, 64), cancel: cancel}
	go func() {
		var dec twsapi.Decoder
		buf := make([]byte, 4096)
		for {
			n, err := clientConn.Read(buf)
			if err != nil {
				close(c.frames)
				return
			}
			dec.Feed(buf[:n])
			for {
				kind, fields, ok, err := dec.Next()
				if !ok {
					break
				}
				if err != nil {
					continue
				}
				c.frames <- frame{kind: kind, fields: fields}
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		_ = clientConn.Close()
	})

	return c, st, sess
}

func (c *testClient) handshake(t *testing.T) {
	t.Helper()
	w := &twsapi.Writer{}
	w.String("v100..176")
	payload := append([]byte("API\x00"), w.Frame()...)
	if _, err := c.conn.Write(payload); err != nil {
		t.Fatal(err)
	}
	// The hello frame is kindless: the collector reports the server
	// version as the kind.
	f := c.next(t)
	if f.kind != 176 {
		t.Fatalf("server version = %d", f.kind)
	}
	if len(f.fields) != 1 {
		t.Fatalf("hello fields = %q", f.fields)
	}
}

func (c *testClient) sendFields(t *testing.T, values ...string) {
	t.Helper()
	w := &twsapi.Writer{}
	for _, v := range values {
		w.String(v)
	}
	if _, err := c.conn.Write(w.Frame()); err != nil {
		t.Fatal(err)
	}
}

func (c *testClient) next(t *testing.T) frame {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		if !ok {
			t.Fatal("connection closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return frame{}
}

func (c *testClient) startAPI(t *testing.T, clientID int64) {
	t.Helper()
	c.handshake(t)
	c.sendFields(t, "71", strconv.FormatInt(clientID, 10), "")

	f := c.next(t)
	if f.kind != twsapi.OutNextValidID {
		t.Fatalf("kind = %d, want NEXT_VALID_ID", f.kind)
	}
	if f.fields[0] != "1000" {
		t.Fatalf("first order id = %q", f.fields[0])
	}
	f = c.next(t)
	if f.kind != twsapi.OutManagedAccts {
		t.Fatalf("kind = %d, want MANAGED_ACCTS", f.kind)
	}
	if f.fields[0] != "DU123456" {
		t.Fatalf("accounts = %q", f.fields[0])
	}
}

func TestHandshake(t *testing.T) {
	t.Run("version range picks max", func(t *testing.T) {
		c, _, _ := startSession(t, Config{})
		c.handshake(t)
	})

	t.Run("garbage prologue closes connection", func(t *testing.T) {
		c, _, _ := startSession(t, Config{})
		if _, err := c.conn.Write([]byte("GET / HTTP/1.0\r\n")); err != nil {
			t.Fatal(err)
		}
		select {
		case _, ok := <-c.frames:
			if ok {
				t.Fatal("unexpected frame")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("connection not closed")
		}
	})
}

func TestParseVersionText(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"v100..176", 176},
		{"100..176", 176},
		{"v176", 176},
		{"100", 100},
		{"", 0},
		{"vgarbage", 0},
	}
	for _, tc := range cases {
		if got := parseVersionText(tc.in); got != tc.want {
			t.Errorf("parseVersionText(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestStartAPI(t *testing.T) {
	c, _, _ := startSession(t, Config{})
	c.startAPI(t, 7)
}

func TestUnknownKind(t *testing.T) {
	c, _, _ := startSession(t, Config{})
	c.handshake(t)

	c.sendFields(t, "999", "1")

	f := c.next(t)
	if f.kind != twsapi.OutErrMsg {
		t.Fatalf("kind = %d", f.kind)
	}
	if f.fields[1] != "505" {
		t.Fatalf("code = %q", f.fields[1])
	}
	if f.fields[2] != "Unknown message ID: 999" {
		t.Fatalf("text = %q", f.fields[2])
	}
}

func TestRateLimit(t *testing.T) {
	c, _, _ := startSession(t, Config{RateLimit: 2})
	c.handshake(t)

	for i := 0; i < 3; i++ {
		c.sendFields(t, "49") // REQ_CURRENT_TIME
	}

	kinds := []int64{c.next(t).kind, c.next(t).kind}
	third := c.next(t)

	for _, k := range kinds {
		if k != twsapi.OutCurrentTime {
			t.Fatalf("kind = %d, want CURRENT_TIME", k)
		}
	}
	if third.kind != twsapi.OutErrMsg || third.fields[1] != "100" {
		t.Fatalf("third frame = %+v, want error 100", third)
	}
	if third.fields[2] != "Max message rate exceeded" {
		t.Fatalf("text = %q", third.fields[2])
	}
}

func TestMarketData(t *testing.T) {
	t.Run("initial burst", func(t *testing.T) {
		c, _, _ := startSession(t, Config{})
		c.startAPI(t, 1)

		c.sendFields(t, "1", "9001",
			"0", "AAPL", "STK", "", "0", "", "", "SMART", "NASDAQ", "USD", "", "",
			"", "0", "0", "")

		f := c.next(t)
		if f.kind != twsapi.OutMarketDataType {
			t.Fatalf("kind = %d, want MARKET_DATA_TYPE", f.kind)
		}

		bid := c.next(t)
		if bid.kind != twsapi.OutTickPrice || bid.fields[2] != "99.99" {
			t.Fatalf("bid frame = %+v", bid)
		}
		ask := c.next(t)
		if ask.fields[2] != "100.01" {
			t.Fatalf("ask frame = %+v", ask)
		}
		last := c.next(t)
		if last.fields[2] != "100" {
			t.Fatalf("last frame = %+v", last)
		}

		sizes := make([]frame, 0, 4)
		for i := 0; i < 4; i++ {
			f := c.next(t)
			if f.kind != twsapi.OutTickSize {
				t.Fatalf("kind = %d, want TICK_SIZE", f.kind)
			}
			sizes = append(sizes, f)
		}
		lastSize := sizes[2]
		if lastSize.fields[1] != "5" || lastSize.fields[2] != "50" {
			t.Fatalf("last size frame = %+v", lastSize)
		}
		if sizes[3].fields[1] != "8" {
			t.Fatalf("volume frame = %+v", sizes[3])
		}
	})

	t.Run("unknown symbol streams from base price", func(t *testing.T) {
		c, _, sess := startSession(t, Config{})
		c.startAPI(t, 1)

		c.sendFields(t, "1", "9002",
			"0", "NOSUCH", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
			"", "0", "0", "")

		f := c.next(t)
		if f.kind != twsapi.OutMarketDataType {
			t.Fatalf("kind = %d, want MARKET_DATA_TYPE", f.kind)
		}
		bid := c.next(t)
		if bid.kind != twsapi.OutTickPrice || bid.fields[2] != "99.99" {
			t.Fatalf("bid frame = %+v", bid)
		}
		for i := 0; i < 6; i++ {
			c.next(t)
		}
		if !sess.IsSubscribed("NOSUCH") {
			t.Fatal("subscription not registered")
		}
	})
}

func TestBroadcastDelivery(t *testing.T) {
	c, _, sess := startSession(t, Config{})
	c.startAPI(t, 1)

	c.sendFields(t, "1", "9001",
		"0", "AAPL", "STK", "", "0", "", "", "SMART", "NASDAQ", "USD", "", "",
		"100,101", "0", "0", "")
	for i := 0; i < 8; i++ { // market data type + burst
		c.next(t)
	}

	if !sess.IsSubscribed("AAPL") {
		t.Fatal("subscription not registered")
	}
	if sess.IsSubscribed("MSFT") {
		t.Fatal("spurious subscription")
	}

	sub, ok := sess.SubscriptionFor(9001)
	if !ok {
		t.Fatal("no subscription descriptor for 9001")
	}
	if sub.Symbol != "AAPL" || sub.Contract.Exchange != "SMART" {
		t.Fatalf("descriptor = %+v", sub)
	}
	if sub.GenericTickList != "100,101" || sub.Snapshot || sub.RegulatorySnapshot {
		t.Fatalf("descriptor = %+v", sub)
	}

	bid, ask := 100.05, 100.07
	size := int64(200)
	go sess.SendMarketData("AAPL", twsapi.Ticks{Bid: &bid, Ask: &ask, BidSize: &size})

	f := c.next(t)
	if f.kind != twsapi.OutTickPrice || f.fields[0] != "9001" || f.fields[2] != "100.05" {
		t.Fatalf("bid frame = %+v", f)
	}
	f = c.next(t)
	if f.fields[2] != "100.07" {
		t.Fatalf("ask frame = %+v", f)
	}
	f = c.next(t)
	if f.kind != twsapi.OutTickSize || f.fields[2] != "200" {
		t.Fatalf("size frame = %+v", f)
	}

	t.Run("cancel stops delivery", func(t *testing.T) {
		c.sendFields(t, "2", "9001")
		deadline := time.After(time.Second)
		for sess.IsSubscribed("AAPL") {
			select {
			case <-deadline:
				t.Fatal("subscription still live after cancel")
			case <-time.After(10 * time.Millisecond):
			}
		}
	})
}

func TestPlaceOrderLifecycle(t *testing.T) {
	c, st, _ := startSession(t, Config{})
	c.startAPI(t, 1)

	// LMT order: acknowledged but never filled.
	c.sendFields(t, "3", "1000",
		"0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
		"", "",
		"BUY", "100", "LMT", "185.5", "", "DAY", "", "DU123456", "", "0", "", "1", "0")

	pending := c.next(t)
	if pending.kind != twsapi.OutOrderStatus || pending.fields[0] != "1000" || pending.fields[1] != "PendingSubmit" {
		t.Fatalf("frame = %+v, want PendingSubmit", pending)
	}
	if pending.fields[5] != "2000" {
		t.Fatalf("permID = %q", pending.fields[5])
	}

	submitted := c.next(t)
	if submitted.fields[1] != "Submitted" {
		t.Fatalf("frame = %+v, want Submitted", submitted)
	}

	o, err := st.GetOrder(context.Background(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != store.OrderStatusSubmitted {
		t.Fatalf("stored status = %q", o.Status)
	}

	t.Run("cancel", func(t *testing.T) {
		c.sendFields(t, "4", "1000")

		pc := c.next(t)
		if pc.fields[1] != "PendingCancel" {
			t.Fatalf("frame = %+v", pc)
		}
		cancelled := c.next(t)
		if cancelled.fields[1] != "Cancelled" {
			t.Fatalf("frame = %+v", cancelled)
		}
	})

	t.Run("cancel unknown order runs the status script", func(t *testing.T) {
		c.sendFields(t, "4", "4242")

		pc := c.next(t)
		if pc.kind != twsapi.OutOrderStatus || pc.fields[0] != "4242" || pc.fields[1] != "PendingCancel" {
			t.Fatalf("frame = %+v, want PendingCancel", pc)
		}
		if pc.fields[2] != "0" || pc.fields[3] != "0" {
			t.Fatalf("fill state = %+v, want zero", pc)
		}
		cancelled := c.next(t)
		if cancelled.fields[0] != "4242" || cancelled.fields[1] != "Cancelled" {
			t.Fatalf("frame = %+v, want Cancelled", cancelled)
		}
	})

	t.Run("unknown symbol still acknowledges", func(t *testing.T) {
		c.sendFields(t, "3", "1002",
			"0", "NOSUCH", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
			"", "",
			"BUY", "5", "LMT", "10", "", "DAY", "", "DU123456", "", "0", "", "1", "0")

		pending := c.next(t)
		if pending.kind != twsapi.OutOrderStatus || pending.fields[0] != "1002" || pending.fields[1] != "PendingSubmit" {
			t.Fatalf("frame = %+v, want PendingSubmit", pending)
		}
		submitted := c.next(t)
		if submitted.fields[1] != "Submitted" {
			t.Fatalf("frame = %+v, want Submitted", submitted)
		}
	})
}

func TestMarketOrderFills(t *testing.T) {
	c, st, _ := startSession(t, Config{})
	c.startAPI(t, 1)

	c.sendFields(t, "3", "1001",
		"0", "MSFT", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
		"", "",
		"BUY", "10", "MKT", "", "", "DAY", "", "DU123456", "", "0", "", "1", "0")

	var filled frame
	for {
		f := c.next(t)
		if f.kind == twsapi.OutOrderStatus && f.fields[1] == "Filled" {
			filled = f
			break
		}
	}
	if filled.fields[2] != "10" || filled.fields[3] != "0" {
		t.Fatalf("filled frame = %+v", filled)
	}

	execData := c.next(t)
	if execData.kind != twsapi.OutExecutionData {
		t.Fatalf("kind = %d, want EXECUTION_DATA", execData.kind)
	}
	commission := c.next(t)
	if commission.kind != twsapi.OutCommissionReport {
		t.Fatalf("kind = %d, want COMMISSION_REPORT", commission.kind)
	}

	positions, err := st.GetPositions(context.Background(), "DU123456")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 || positions[0].Position != 10 {
		t.Fatalf("positions = %+v", positions)
	}

	execs, err := st.GetExecutions(context.Background(), store.ExecutionQuery{Symbol: "MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 1 || execs[0].Side != "BOT" {
		t.Fatalf("execs = %+v", execs)
	}
}

func TestAccountData(t *testing.T) {
	c, _, _ := startSession(t, Config{})
	c.startAPI(t, 1)

	c.sendFields(t, "6", "1", "DU123456")

	keys := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		f := c.next(t)
		if f.kind != twsapi.OutAcctValue {
			t.Fatalf("kind = %d, want ACCT_VALUE", f.kind)
		}
		keys = append(keys, f.fields[0])
	}
	want := []string{"NetLiquidation", "TotalCashValue", "UnrealizedPnL", "RealizedPnL"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("keys = %q, want %q", keys, want)
		}
	}

	ts := c.next(t)
	if ts.kind != twsapi.OutAcctUpdateTime {
		t.Fatalf("kind = %d, want ACCT_UPDATE_TIME", ts.kind)
	}
	end := c.next(t)
	if end.kind != twsapi.OutAcctDownloadEnd || end.fields[0] != "DU123456" {
		t.Fatalf("end frame = %+v", end)
	}

	t.Run("unsubscribe answers with the end marker alone", func(t *testing.T) {
		c.sendFields(t, "6", "0", "DU123456")

		f := c.next(t)
		if f.kind != twsapi.OutAcctDownloadEnd || f.fields[0] != "DU123456" {
			t.Fatalf("frame = %+v, want ACCT_DOWNLOAD_END", f)
		}
	})
}

func TestPositionsAndContractData(t *testing.T) {
	c, st, _ := startSession(t, Config{})
	c.startAPI(t, 1)

	aapl, err := st.GetContractBySymbol(context.Background(), "AAPL", "STK")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.ApplyFill(context.Background(), "DU123456", aapl, 100, 185.5); err != nil {
		t.Fatal(err)
	}

	t.Run("positions", func(t *testing.T) {
		c.sendFields(t, "61")

		row := c.next(t)
		if row.kind != twsapi.OutPositionData {
			t.Fatalf("kind = %d, want POSITION_DATA", row.kind)
		}
		if row.fields[0] != "DU123456" || row.fields[2] != "AAPL" {
			t.Fatalf("row = %+v", row)
		}
		end := c.next(t)
		if end.kind != twsapi.OutPositionEnd {
			t.Fatalf("kind = %d, want POSITION_END", end.kind)
		}
	})

	t.Run("positions report the first account only", func(t *testing.T) {
		if _, err := st.CreateAccount(context.Background(), "DU123457", "demo"); err != nil {
			t.Fatal(err)
		}
		msft, err := st.GetContractBySymbol(context.Background(), "MSFT", "STK")
		if err != nil {
			t.Fatal(err)
		}
		if err := st.ApplyFill(context.Background(), "DU123457", msft, 50, 410.5); err != nil {
			t.Fatal(err)
		}

		c.sendFields(t, "61")

		for {
			f := c.next(t)
			if f.kind == twsapi.OutPositionEnd {
				break
			}
			if f.kind != twsapi.OutPositionData {
				t.Fatalf("kind = %d, want POSITION_DATA", f.kind)
			}
			if f.fields[0] != "DU123456" {
				t.Fatalf("row for account %q", f.fields[0])
			}
		}
	})

	t.Run("contract details", func(t *testing.T) {
		c.sendFields(t, "9", "42",
			"0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "0")

		data := c.next(t)
		if data.kind != twsapi.OutContractData {
			t.Fatalf("kind = %d, want CONTRACT_DATA", data.kind)
		}
		if data.fields[0] != "42" || data.fields[1] != "AAPL" {
			t.Fatalf("row = %+v", data)
		}
		end := c.next(t)
		if end.kind != twsapi.OutContractDataEnd {
			t.Fatalf("kind = %d, want CONTRACT_DATA_END", end.kind)
		}
	})

	t.Run("unknown contract details still end", func(t *testing.T) {
		c.sendFields(t, "9", "47",
			"0", "NOSUCH", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "0")

		end := c.next(t)
		if end.kind != twsapi.OutContractDataEnd || end.fields[0] != "47" {
			t.Fatalf("frame = %+v, want CONTRACT_DATA_END", end)
		}
	})

	t.Run("option chain", func(t *testing.T) {
		c.sendFields(t, "78", "43", "AAPL", "", "STK", strconv.FormatInt(aapl.ConID, 10))

		param := c.next(t)
		if param.kind != twsapi.OutSecurityDefinitionOptionParameter {
			t.Fatalf("kind = %d, want SEC_DEF_OPT_PARAM", param.kind)
		}
		end := c.next(t)
		if end.kind != twsapi.OutSecurityDefinitionOptionParameterEnd {
			t.Fatalf("kind = %d", end.kind)
		}
	})

	t.Run("historical bars", func(t *testing.T) {
		c.sendFields(t, "20", "44",
			"0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "0",
			"", "1 day", "30 D", "1", "TRADES", "1")

		f := c.next(t)
		if f.kind != twsapi.OutHistoricalData {
			t.Fatalf("kind = %d, want HISTORICAL_DATA", f.kind)
		}
		if f.fields[3] != "30" {
			t.Fatalf("bar count = %q", f.fields[3])
		}
	})

	t.Run("historical bars for unknown contract are empty", func(t *testing.T) {
		c.sendFields(t, "20", "45",
			"0", "NOSUCH", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "0",
			"", "1 day", "30 D", "1", "TRADES", "1")

		f := c.next(t)
		if f.kind != twsapi.OutHistoricalData {
			t.Fatalf("kind = %d, want HISTORICAL_DATA", f.kind)
		}
		want := []string{"45", "", "", "0"}
		if len(f.fields) != len(want) {
			t.Fatalf("fields = %q", f.fields)
		}
		for i := range want {
			if f.fields[i] != want[i] {
				t.Fatalf("fields = %q, want %q", f.fields, want)
			}
		}
	})
}

func TestContractBurstNotInterleavedWithTicks(t *testing.T) {
	c, _, sess := startSession(t, Config{RateLimit: 1000})
	c.startAPI(t, 1)

	c.sendFields(t, "1", "9001",
		"0", "AAPL", "STK", "", "0", "", "", "SMART", "NASDAQ", "USD", "", "",
		"", "0", "0", "")
	for i := 0; i < 8; i++ {
		c.next(t)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		bid := 100.05
		for {
			select {
			case <-stop:
				return
			default:
				sess.SendMarketData("AAPL", twsapi.Ticks{Bid: &bid})
			}
		}
	}()
	defer func() {
		close(stop)
		// Unblock a hammer write stuck on the full pipe.
		_ = c.conn.Close()
		<-done
	}()

	for i := 0; i < 20; i++ {
		c.sendFields(t, "9", "42",
			"0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "", "0")

		for {
			f := c.next(t)
			if f.kind != twsapi.OutContractData {
				continue
			}
			// The burst is one write unit: the end marker must follow
			// immediately, with no tick frame spliced in.
			next := c.next(t)
			if next.kind != twsapi.OutContractDataEnd {
				t.Fatalf("frame %d inside contract burst", next.kind)
			}
			break
		}
	}
}

func TestListenerAssignedClientID(t *testing.T) {
	c, _, sess := startSession(t, Config{})
	sess.SetClientID(5)

	c.handshake(t)
	c.sendFields(t, "71", "", "")
	for i := 0; i < 2; i++ { // NEXT_VALID_ID, MANAGED_ACCTS
		c.next(t)
	}

	if got := sess.ClientID(); got != 5 {
		t.Fatalf("client id = %d, want 5", got)
	}

	c.sendFields(t, "3", "1000",
		"0", "AAPL", "STK", "", "0", "", "", "SMART", "", "USD", "", "",
		"", "",
		"BUY", "100", "LMT", "185.5", "", "DAY", "", "DU123456", "", "0", "", "1", "0")

	f := c.next(t)
	if f.kind != twsapi.OutOrderStatus || f.fields[8] != "5" {
		t.Fatalf("frame = %+v, want client id 5", f)
	}

	t.Run("start api id wins when announced", func(t *testing.T) {
		c.sendFields(t, "71", "9", "")
		for c.next(t).kind != twsapi.OutManagedAccts {
		}
		if got := sess.ClientID(); got != 9 {
			t.Fatalf("client id = %d, want 9", got)
		}
	})
}

func TestRateLimiterWindow(t *testing.T) {
	base := time.Now()
	r := newRateLimiter(3)

	for i := 0; i < 3; i++ {
		if !r.allow(base) {
			t.Fatalf("message %d rejected", i)
		}
	}
	if r.allow(base.Add(500 * time.Millisecond)) {
		t.Fatal("over-budget message allowed")
	}
	if !r.allow(base.Add(1100 * time.Millisecond)) {
		t.Fatal("message rejected after window reset")
	}
}
