package crawl

// pageContent is the result shape of extractScript.
type pageContent struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// extractScript renders the page's main content region as markdown. It runs
// inside arbitrary documentation pages, so it stays dependency-free. The
// code-fence marker is built from a char code because the script lives in a
// Go raw string and cannot contain backticks.
const extractScript = `(() => {
  const root = document.querySelector('main, article, [role="main"]') || document.body;
  const fence = String.fromCharCode(96).repeat(3);
  const lines = [];
  const clean = (el) => (el.textContent || '').replace(/\s+/g, ' ').trim();
  const walk = (node) => {
    for (const el of node.children) {
      const tag = el.tagName.toLowerCase();
      if (tag === 'script' || tag === 'style' || tag === 'nav' || tag === 'aside' ||
          tag === 'header' || tag === 'footer') {
        continue;
      }
      if (/^h[1-6]$/.test(tag)) {
        const text = clean(el);
        if (text) lines.push('#'.repeat(Number(tag[1])) + ' ' + text);
      } else if (tag === 'pre') {
        const code = (el.textContent || '').replace(/\s+$/, '');
        if (code) lines.push(fence + '\n' + code + '\n' + fence);
      } else if (tag === 'p') {
        const text = clean(el);
        if (text) lines.push(text);
      } else if (tag === 'blockquote') {
        const text = clean(el);
        if (text) lines.push('> ' + text);
      } else if (tag === 'ul' || tag === 'ol') {
        let n = 1;
        for (const li of el.querySelectorAll(':scope > li')) {
          const text = clean(li);
          if (text) lines.push((tag === 'ol' ? (n++) + '. ' : '- ') + text);
        }
      } else if (tag === 'table') {
        for (const row of el.querySelectorAll('tr')) {
          const cells = Array.from(row.querySelectorAll('th, td'), clean);
          if (cells.some((c) => c)) lines.push('| ' + cells.join(' | ') + ' |');
        }
      } else {
        walk(el);
      }
    }
  };
  walk(root);
  const h1 = root.querySelector('h1');
  const title = (h1 ? clean(h1) : document.title || '').trim();
  return { title: title, markdown: lines.join('\n\n') };
})()`
